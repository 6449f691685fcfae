package wire

import (
	"bytes"
	"sync/atomic"

	"go.uber.org/zap"
)

// Delimiter separates messages on the terminal byte stream.
const Delimiter = '\n'

// DefaultMaxFrame bounds a single frame; a terminal that streams more than
// this without a delimiter is emitting garbage, not a message.
const DefaultMaxFrame = 64 * 1024

// Framer reassembles delimited frames from an arbitrarily chunked byte
// stream. One Framer per connection; not safe for concurrent use.
type Framer struct {
	carry    []byte
	maxFrame int
	// When a frame overflows maxFrame the remainder of that frame, up to
	// the next delimiter, is skipped.
	skipping  bool
	discarded int64
}

// NewFramer creates a framer with the given frame size bound.
// maxFrame <= 0 selects DefaultMaxFrame.
func NewFramer(maxFrame int) *Framer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Framer{maxFrame: maxFrame}
}

// Push appends a chunk and returns every complete frame it closes, in order.
// The trailing partial frame is carried over to the next Push. Empty frames
// (bare delimiters) are dropped.
func (f *Framer) Push(chunk []byte) [][]byte {
	var frames [][]byte

	for len(chunk) > 0 {
		idx := bytes.IndexByte(chunk, Delimiter)

		if f.skipping {
			if idx < 0 {
				return frames
			}
			// Tail of the oversized frame; resume after the delimiter.
			f.skipping = false
			chunk = chunk[idx+1:]
			continue
		}

		if idx < 0 {
			f.carry = append(f.carry, chunk...)
			if len(f.carry) > f.maxFrame {
				f.carry = f.carry[:0]
				f.skipping = true
				f.discarded++
			}
			return frames
		}

		frame := chunk[:idx]
		if len(f.carry) > 0 {
			frame = append(f.carry, frame...)
			f.carry = nil
		}
		if len(frame) > f.maxFrame {
			f.discarded++
		} else if len(frame) > 0 {
			// Copy: the input chunk may be a reused read buffer.
			out := make([]byte, len(frame))
			copy(out, frame)
			frames = append(frames, out)
		}
		chunk = chunk[idx+1:]
	}

	return frames
}

// Discarded returns how many oversized frames were dropped.
func (f *Framer) Discarded() int64 {
	return f.discarded
}

// Decoder couples a framer with strict message parsing. Malformed frames are
// counted and sampled into the log; they never stop later frames.
type Decoder struct {
	framer    *Framer
	logger    *zap.Logger
	malformed int64
}

// NewDecoder creates a per-connection decoder.
func NewDecoder(maxFrame int, logger *zap.Logger) *Decoder {
	return &Decoder{
		framer: NewFramer(maxFrame),
		logger: logger,
	}
}

// Decode pushes a raw chunk and returns every message completed by it.
// A parse failure is local to its frame.
func (d *Decoder) Decode(chunk []byte) []Message {
	frames := d.framer.Push(chunk)
	if len(frames) == 0 {
		return nil
	}

	msgs := make([]Message, 0, len(frames))
	for _, frame := range frames {
		msg, err := ParseMessage(frame)
		if err != nil {
			n := atomic.AddInt64(&d.malformed, 1)
			// Reduced-volume logging: a broken terminal can spew
			// thousands of bad frames a second.
			if n == 1 || n%100 == 0 {
				d.logger.Warn("malformed frame",
					zap.Int64("malformed_total", n),
					zap.Error(err),
				)
			}
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// Malformed returns how many frames failed to parse.
func (d *Decoder) Malformed() int64 {
	return atomic.LoadInt64(&d.malformed)
}
