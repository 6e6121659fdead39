package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rampSamples(start, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(start+i) / 32767
	}
	return samples
}

func TestPushBelowFrameLengthEmitsNothing(t *testing.T) {
	a := NewFrameAssembler(512)

	frames := a.Push(rampSamples(0, 511))
	assert.Empty(t, frames)
	assert.Equal(t, 511, a.Buffered())
}

func TestPushEmitsCompleteFramesInOrder(t *testing.T) {
	a := NewFrameAssembler(512)

	// 1300 samples yield two full frames and a 276-sample remainder.
	frames := a.Push(rampSamples(0, 1300))
	require.Len(t, frames, 2)
	assert.Equal(t, 276, a.Buffered())

	for fi, f := range frames {
		require.Len(t, f, 512)
		for i, s := range f {
			assert.Equal(t, int16(fi*512+i), s, "frame %d sample %d", fi, i)
		}
	}

	// The remainder joins the next push; nothing was dropped.
	frames = a.Push(rampSamples(1300, 236))
	require.Len(t, frames, 1)
	assert.Equal(t, int16(1024), frames[0][0])
	assert.Equal(t, int16(1535), frames[0][511])
	assert.Equal(t, 0, a.Buffered())
}

func TestPushNeverEmitsShortFrames(t *testing.T) {
	a := NewFrameAssembler(100)

	for i := 0; i < 50; i++ {
		for _, f := range a.Push(rampSamples(i*33, 33)) {
			assert.Len(t, f, 100)
		}
		assert.Less(t, a.Buffered(), 100)
	}
}

func TestPushSaturatesOutOfRangeSamples(t *testing.T) {
	a := NewFrameAssembler(4)

	frames := a.Push([]float32{2.0, -2.0, 1.0, -1.0})
	require.Len(t, frames, 1)
	assert.Equal(t, int16(32767), frames[0][0])
	assert.Equal(t, int16(-32767), frames[0][1])
	assert.Equal(t, int16(32767), frames[0][2])
	assert.Equal(t, int16(-32767), frames[0][3])
}

func TestResetDropsRemainder(t *testing.T) {
	a := NewFrameAssembler(512)

	a.Push(rampSamples(0, 300))
	require.Equal(t, 300, a.Buffered())

	a.Reset()
	assert.Equal(t, 0, a.Buffered())

	// Post-reset frames start from the new input only.
	frames := a.Push(rampSamples(1000, 512))
	require.Len(t, frames, 1)
	assert.Equal(t, int16(1000), frames[0][0])
}
