package compress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zedstore/zedstore/common"
)

func repeating(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 7)
	}
	return buf
}

func TestAddFinishRoundTrip(t *testing.T) {
	c := Begin(4096)
	r1 := c.Add(1, 1, repeating(200))
	require.Equal(t, Fit, r1)
	r2 := c.Add(2, 2, repeating(200))
	require.Equal(t, Fit, r2)

	blob, first, last, uncompSize, ok := c.Finish()
	require.True(t, ok)
	require.Equal(t, common.TID(1), first)
	require.Equal(t, common.TID(2), last)

	out, err := Decompress(blob, uncompSize)
	require.NoError(t, err)
	require.True(t, bytes.Equal(out, append(repeating(200), repeating(200)...)))
}

func TestAddMonotoneFull(t *testing.T) {
	c := Begin(32) // tiny budget forces Full almost immediately
	var lastResult Result
	for i := 0; i < 50; i++ {
		lastResult = c.Add(common.TID(i+1), common.TID(i+1), repeating(64))
		if lastResult == Full {
			break
		}
	}
	require.Equal(t, Full, lastResult)
	// Once full, further Add calls stay full (monotone).
	require.Equal(t, Full, c.Add(999, 999, repeating(64)))
}

func TestFinishIdempotent(t *testing.T) {
	c := Begin(4096)
	c.Add(1, 1, repeating(200))
	blob1, _, _, _, ok1 := c.Finish()
	blob2, _, _, _, ok2 := c.Finish()
	require.Equal(t, ok1, ok2)
	require.Equal(t, blob1, blob2)
}

func TestFinishEmptyBatch(t *testing.T) {
	c := Begin(4096)
	_, _, _, _, ok := c.Finish()
	require.False(t, ok)
}

func TestFinishFallsBackWhenLoneItemWontShrink(t *testing.T) {
	c := Begin(1 << 20)
	random := make([]byte, 256)
	for i := range random {
		random[i] = byte(i*131 + 7)
	}
	c.Add(1, 1, random)
	_, _, _, _, ok := c.Finish()
	// The 256 bytes are all distinct, so the lone item cannot shrink and
	// Finish reports that it should be stored uncompressed.
	require.False(t, ok)
}
