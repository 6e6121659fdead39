package frame

import "math"

// A PCMBlock is one raw capture cycle's worth of audio: float32 samples in
// [-1, 1] at the capture device's native sample rate. Block length is
// host-determined (e.g. 4096) and fixed for the lifetime of a stream.
type PCMBlock []float32

// A PCMFrame is one fixed-length unit of delivery to downstream consumers:
// 16-bit signed PCM at the pipeline's output sample rate.
//
// Consumers must treat a received frame as read-only.
type PCMFrame []int16

// SaturateInt16 scales a float sample in [-1, 1] into the signed 16-bit
// range, clipping anything outside it at ±32767.
func SaturateInt16(sample float32) int16 {
	scaled := math.Round(float64(sample) * 32767)
	switch {
	case scaled > 32767:
		return 32767
	case scaled < -32767:
		return -32767
	}
	return int16(scaled)
}
