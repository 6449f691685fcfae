package authz

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrForbidden is the only failure this package reports. Bad signature and
// expired capability deliberately collapse into it so callers cannot be used
// as a validity oracle.
var ErrForbidden = errors.New("forbidden")

// Capability is a stateless, time-boxed grant for one user to act on one
// mission. It is never stored; the signature is recomputed on every check.
type Capability struct {
	UserID    string
	MissionID string
	ExpiresAt time.Time
	Signature string
}

// Signer signs and verifies mission capabilities with a server-side secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer over the given secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// canonical is the exact byte string the MAC covers. Changing any field
// changes the MAC.
func canonical(userID, missionID string, expiresAt time.Time) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", userID, missionID, expiresAt.Unix()))
}

// Sign issues the capability signature for (user, mission, expiry).
func (s *Signer) Sign(userID, missionID string, expiresAt time.Time) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical(userID, missionID, expiresAt))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a presented capability at the given time. The comparison is
// constant time; every failure mode returns the same ErrForbidden.
func (s *Signer) Verify(cap Capability, now time.Time) error {
	presented, err := base64.RawURLEncoding.DecodeString(cap.Signature)
	if err != nil {
		return ErrForbidden
	}

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(canonical(cap.UserID, cap.MissionID, cap.ExpiresAt))
	expected := mac.Sum(nil)

	if !hmac.Equal(presented, expected) {
		return ErrForbidden
	}
	if !now.Before(cap.ExpiresAt) {
		return ErrForbidden
	}
	return nil
}
