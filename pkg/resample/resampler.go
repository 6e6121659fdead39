// Package resample converts a mono audio stream from one sample rate to
// another using linear interpolation, preserving continuity across
// arbitrarily sized input blocks.
package resample

import (
	"fmt"
	"math"

	"github.com/mikob/web-voice-processor/pkg/frame"
)

// Resampler steps a cursor along the input timeline by inputRate/outputRate
// per output sample, interpolating between the two nearest input samples.
//
// The fractional cursor position and the final sample of the previous block
// are carried between Process calls, so feeding a signal split into blocks
// produces exactly the same output as feeding it in one piece. A Resampler is
// not safe for concurrent use; the processing unit owns one exclusively.
type Resampler struct {
	inputRate  int
	outputRate int

	// Input samples consumed per output sample. > 1 when downsampling.
	step float64

	// Cursor position on the input timeline, relative to the start of the
	// next block. In (-1, 0) it points between the carried sample and the
	// first sample of the next block.
	pos float64

	// The final sample of the previous block, addressed as index -1.
	last float32
}

// New returns a Resampler converting from inputRate to outputRate, both in
// Hz. Rates are fixed for the lifetime of the Resampler.
func New(inputRate, outputRate int) (*Resampler, error) {
	if inputRate <= 0 {
		return nil, fmt.Errorf("input sample rate must be positive, got %d", inputRate)
	}
	if outputRate <= 0 {
		return nil, fmt.Errorf("output sample rate must be positive, got %d", outputRate)
	}
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		step:       float64(inputRate) / float64(outputRate),
	}, nil
}

// Process consumes one block of input samples and returns every output
// sample whose interpolation window is fully covered by the samples seen so
// far. Trailing input that the next output sample still depends on is
// retained as carry-over state.
func (r *Resampler) Process(block frame.PCMBlock) []float32 {
	n := len(block)
	if n == 0 {
		return nil
	}

	// Upper bound on output count, so append never reallocates mid-block.
	out := make([]float32, 0, int(float64(n)/r.step)+2)

	// An output sample at cursor p needs input samples floor(p) and
	// floor(p)+1, so we can produce while floor(p)+1 is inside this block.
	for r.pos < float64(n-1) {
		idx := int(math.Floor(r.pos))
		frac := float32(r.pos - float64(idx))

		var s0 float32
		if idx < 0 {
			s0 = r.last
		} else {
			s0 = block[idx]
		}
		s1 := block[idx+1]

		out = append(out, s0+(s1-s0)*frac)
		r.pos += r.step
	}

	// Shift the cursor into the next block's coordinates and remember the
	// boundary sample. pos > n-1 here, so the shifted cursor is > -1.
	r.pos -= float64(n)
	r.last = block[n-1]

	return out
}

// Reset discards all carry-over state, as if no input had been processed.
func (r *Resampler) Reset() {
	r.pos = 0
	r.last = 0
}

// InputRate returns the configured input sample rate in Hz.
func (r *Resampler) InputRate() int { return r.inputRate }

// OutputRate returns the configured output sample rate in Hz.
func (r *Resampler) OutputRate() int { return r.outputRate }
