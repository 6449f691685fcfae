package chaos

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseProfile(t *testing.T) {
	parsed, err := ParseProfile("drop-pct=5,frag-pct=40,delay=10-50")
	require.NoError(t, err)
	assert.Equal(t, 5, parsed.DropPct)
	assert.Equal(t, 40, parsed.FragPct)
	assert.Equal(t, 10, parsed.DelayMsMin)
	assert.Equal(t, 50, parsed.DelayMsMax)

	_, err = ParseProfile("drop-pct=abc")
	assert.Error(t, err)

	_, err = ParseProfile("nonsense=1")
	assert.Error(t, err)
}

func TestFragment_ReassemblesToOriginal(t *testing.T) {
	inj := New(&Config{Enabled: true, FragPct: 100, Seed: 42}, zap.NewNop())
	line := []byte(`{"v":1,"type":"heartbeat","terminal_id":"sim-1"}` + "\n")

	for i := 0; i < 50; i++ {
		chunks := inj.Fragment(line)
		require.NotEmpty(t, chunks)
		assert.Equal(t, line, bytes.Join(chunks, nil), "fragmentation must never lose bytes")
	}
}

func TestFragment_DisabledPassesThrough(t *testing.T) {
	inj := New(&Config{Enabled: false, FragPct: 100, Seed: 1}, zap.NewNop())
	line := []byte("hello\n")

	chunks := inj.Fragment(line)
	require.Len(t, chunks, 1)
	assert.Equal(t, line, chunks[0])
}

func TestMaybeDrop_Deterministic(t *testing.T) {
	first := New(&Config{Enabled: true, DropPct: 50, Seed: 7}, zap.NewNop())
	second := New(&Config{Enabled: true, DropPct: 50, Seed: 7}, zap.NewNop())

	for i := 0; i < 100; i++ {
		assert.Equal(t, first.MaybeDrop(), second.MaybeDrop(), "same seed, same decisions")
	}
}
