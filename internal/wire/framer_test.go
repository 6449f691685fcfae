package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFramer_SplitAndConcatenated(t *testing.T) {
	f := NewFramer(0)

	// Two messages in one chunk plus a partial third.
	frames := f.Push([]byte("{\"a\":1}\n{\"b\":2}\n{\"c\""))
	require.Len(t, frames, 2)
	assert.Equal(t, `{"a":1}`, string(frames[0]))
	assert.Equal(t, `{"b":2}`, string(frames[1]))

	// The partial completes across two more pushes.
	frames = f.Push([]byte(":3"))
	assert.Empty(t, frames)

	frames = f.Push([]byte("}\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"c":3}`, string(frames[0]))
}

func TestFramer_AnyChunkingYieldsSameFrames(t *testing.T) {
	stream := []byte("{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n{\"n\":4}\n{\"n\":5}\n")
	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`, `{"n":4}`, `{"n":5}`}

	// Every chunk size from byte-at-a-time up to the whole stream.
	for size := 1; size <= len(stream); size++ {
		f := NewFramer(0)
		var got []string
		for i := 0; i < len(stream); i += size {
			end := i + size
			if end > len(stream) {
				end = len(stream)
			}
			for _, frame := range f.Push(stream[i:end]) {
				got = append(got, string(frame))
			}
		}
		require.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestFramer_SkipsEmptyFrames(t *testing.T) {
	f := NewFramer(0)
	frames := f.Push([]byte("\n\n{\"a\":1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"a":1}`, string(frames[0]))
}

func TestFramer_OversizedFrameDiscarded(t *testing.T) {
	f := NewFramer(8)

	// Oversized frame arriving in pieces; the tail after the overflow must
	// also be skipped, and the following frame must survive.
	frames := f.Push([]byte("0123456789"))
	assert.Empty(t, frames)
	frames = f.Push([]byte("more-tail\nok\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", string(frames[0]))
	assert.EqualValues(t, 1, f.Discarded())

	// Oversized frame arriving whole.
	frames = f.Push([]byte("0123456789AB\nok2\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, "ok2", string(frames[0]))
	assert.EqualValues(t, 2, f.Discarded())
}

func TestDecoder_MalformedFrameDoesNotHaltStream(t *testing.T) {
	d := NewDecoder(0, zap.NewNop())

	chunk := []byte(`{"type":"heartbeat","terminal_id":"t1"}` + "\n" +
		`{not json}` + "\n" +
		`{"type":"heartbeat","terminal_id":"t2"}` + "\n")

	msgs := d.Decode(chunk)
	require.Len(t, msgs, 2)
	assert.Equal(t, "t1", msgs[0].TerminalID)
	assert.Equal(t, "t2", msgs[1].TerminalID)
	assert.EqualValues(t, 1, d.Malformed())
}
