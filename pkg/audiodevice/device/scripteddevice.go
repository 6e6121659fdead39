package device

import (
	"sync"

	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/frame"
)

// ScriptedCaptureDevice is a CaptureDevice fed by the caller instead of by
// hardware. Useful in tests and examples, and a minimal template for
// implementing the interface.
type ScriptedCaptureDevice struct {
	properties   audiodevice.DeviceProperties
	sinkStream   chan frame.PCMBlock
	shutdownOnce sync.Once
}

func NewScriptedCaptureDevice(properties audiodevice.DeviceProperties) *ScriptedCaptureDevice {
	return &ScriptedCaptureDevice{
		properties: properties,
		sinkStream: make(chan frame.PCMBlock),
	}
}

// Feed delivers one raw block to the stream, blocking until the consumer
// accepts it. Must not be called after Close.
func (d *ScriptedCaptureDevice) Feed(block frame.PCMBlock) {
	d.sinkStream <- block
}

func (d *ScriptedCaptureDevice) GetStream() <-chan frame.PCMBlock {
	return d.sinkStream
}

func (d *ScriptedCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *ScriptedCaptureDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}
