// Package audiodevice defines the boundary to the host audio subsystem. The
// pipeline only needs a stream of raw capture blocks and the properties of
// the device producing them; everything about acquiring, driving and tearing
// down real hardware lives behind this interface.
package audiodevice

import "github.com/mikob/web-voice-processor/pkg/frame"

// DeviceProperties describes the native format a capture device delivers.
type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// CaptureDevice is any producer of raw audio blocks, e.g. a microphone.
//
// The device delivers float32 blocks in [-1, 1] at its native sample rate,
// one per capture cycle, on the channel returned by GetStream. The channel
// is closed when the device is closed; consumers treat that as
// end-of-stream.
type CaptureDevice interface {
	// GetStream returns the channel raw capture blocks arrive on.
	GetStream() <-chan frame.PCMBlock

	GetDeviceProperties() DeviceProperties

	// Close stops capture, releases host resources and closes the stream.
	// Safe to call more than once.
	Close()
}
