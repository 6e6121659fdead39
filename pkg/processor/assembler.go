package processor

import (
	"github.com/mikob/web-voice-processor/pkg/frame"
)

// FrameAssembler accumulates resampled float samples, converts them to
// 16-bit signed PCM, and slices off fixed-length frames in FIFO order.
// Samples below one frame length stay buffered for the next Push; nothing is
// ever dropped.
type FrameAssembler struct {
	frameLength int
	buffer      []int16
}

// NewFrameAssembler returns an assembler emitting frames of frameLength
// samples. frameLength must be validated positive by the caller before
// construction.
func NewFrameAssembler(frameLength int) *FrameAssembler {
	return &FrameAssembler{
		frameLength: frameLength,
		buffer:      make([]int16, 0, 2*frameLength),
	}
}

// Push appends samples to the accumulation buffer and returns every complete
// frame it now holds, zero or more. A single push may yield several frames
// when blocks are large or the downsampling ratio is mild.
func (a *FrameAssembler) Push(samples []float32) []frame.PCMFrame {
	for _, s := range samples {
		a.buffer = append(a.buffer, frame.SaturateInt16(s))
	}

	var frames []frame.PCMFrame
	for len(a.buffer) >= a.frameLength {
		out := make(frame.PCMFrame, a.frameLength)
		copy(out, a.buffer[:a.frameLength])
		frames = append(frames, out)
		a.buffer = a.buffer[:copy(a.buffer, a.buffer[a.frameLength:])]
	}
	return frames
}

// Buffered returns how many samples are currently held below one frame
// length.
func (a *FrameAssembler) Buffered() int {
	return len(a.buffer)
}

// Reset drops any buffered remainder.
func (a *FrameAssembler) Reset() {
	a.buffer = a.buffer[:0]
}
