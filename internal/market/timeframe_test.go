package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 1H ")
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, time.Hour, tf.Duration)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1h")
	require.NoError(t, err)
	step := tf.DurationMillis()

	start, end := tf.AlignRange(step+1234, 3*step+999)
	assert.Equal(t, step, start)
	assert.Equal(t, 3*step, end)

	t.Run("swapped endpoints", func(t *testing.T) {
		start, end := tf.AlignRange(5*step, 2*step)
		assert.Equal(t, 2*step, start)
		assert.Equal(t, 5*step, end)
	})
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	step := tf.DurationMillis()

	assert.Equal(t, int64(1), tf.ExpectedCandles(step, step))
	assert.Equal(t, int64(4), tf.ExpectedCandles(step, 4*step))
	assert.Equal(t, int64(0), tf.ExpectedCandles(4*step, step))
}

func TestSupportedTimeframesSorted(t *testing.T) {
	keys := SupportedTimeframes()
	require.NotEmpty(t, keys)
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1d")
}
