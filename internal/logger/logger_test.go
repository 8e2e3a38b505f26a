package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel("info")
	})
	return &buf
}

func TestStructuredFields(t *testing.T) {
	buf := captureOutput(t)

	Infow("backtest run completed", "run", "abc", "trades", 3)
	out := buf.String()
	assert.Contains(t, out, "backtest run completed")
	assert.Contains(t, out, "run=abc")
	assert.Contains(t, out, "trades=3")
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("error")
	Infof("hidden %d", 1)
	Infow("also hidden", "k", "v")
	assert.Empty(t, buf.String())

	Errorw("kept", "k", "v")
	assert.Contains(t, buf.String(), "kept")
}
