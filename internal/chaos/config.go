package chaos

import (
	"fmt"
	"strconv"
	"strings"
)

// Config holds fault-injection settings for the terminal simulator.
type Config struct {
	Enabled    bool
	Profile    string
	DropPct    int
	FragPct    int
	DelayMsMin int
	DelayMsMax int
	Seed       int64
	WindowMs   int
}

// ProfileValues is the parsed form of a profile string.
type ProfileValues struct {
	DropPct    int
	FragPct    int
	DelayMsMin int
	DelayMsMax int
}

// ParseProfile parses a profile string like "drop-pct=5,frag-pct=40,delay=10-50".
func ParseProfile(profile string) (ProfileValues, error) {
	var out ProfileValues
	if profile == "" {
		return out, nil
	}

	for _, part := range strings.Split(profile, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "drop-pct="):
			val, err := strconv.Atoi(strings.TrimPrefix(part, "drop-pct="))
			if err != nil {
				return ProfileValues{}, fmt.Errorf("invalid drop-pct: %w", err)
			}
			out.DropPct = val
		case strings.HasPrefix(part, "frag-pct="):
			val, err := strconv.Atoi(strings.TrimPrefix(part, "frag-pct="))
			if err != nil {
				return ProfileValues{}, fmt.Errorf("invalid frag-pct: %w", err)
			}
			out.FragPct = val
		case strings.HasPrefix(part, "delay="):
			bounds := strings.Split(strings.TrimPrefix(part, "delay="), "-")
			if len(bounds) != 2 {
				return ProfileValues{}, fmt.Errorf("invalid delay band %q", part)
			}
			lo, err := strconv.Atoi(bounds[0])
			if err != nil {
				return ProfileValues{}, fmt.Errorf("invalid delay min: %w", err)
			}
			hi, err := strconv.Atoi(bounds[1])
			if err != nil {
				return ProfileValues{}, fmt.Errorf("invalid delay max: %w", err)
			}
			out.DelayMsMin = lo
			out.DelayMsMax = hi
		default:
			return ProfileValues{}, fmt.Errorf("unknown profile directive %q", part)
		}
	}

	return out, nil
}
