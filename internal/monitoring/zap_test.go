package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseZap(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	core, logs := observer.New(zapcore.InfoLevel)
	UseZap(zap.New(core))
	defer UseZap(nil)

	Logf("run %s finished with %d violations\n", "abc", 3)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run abc finished with 3 violations", entries[0].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
}

func TestZapWriter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	w := ZapWriter(zap.New(core), zapcore.WarnLevel, "engine")

	_, err := fmt.Fprintln(w, "detector failed on frame 4")
	require.NoError(t, err)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "detector failed on frame 4", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "engine", entries[0].LoggerName)
}

func TestNewZap(t *testing.T) {
	for _, dev := range []bool{false, true} {
		l, err := NewZap(dev)
		require.NoError(t, err)
		assert.NotNil(t, l)
	}
}
