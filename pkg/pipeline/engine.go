package pipeline

import "github.com/mikob/web-voice-processor/pkg/frame"

// Engine is anything that consumes the pipeline's output frames: a speech
// recognizer, a wake-word detector, a file sink. Receive is called once per
// frame, in frame order, from the pipeline's distribution goroutine; a slow
// Receive delays delivery to the engines registered after it, so engines
// doing real work should hand the frame off to their own goroutine.
//
// Engines must not mutate the received frame.
type Engine interface {
	Receive(f frame.PCMFrame)
}

// ChannelEngine adapts the Engine interface to a channel, for consumers
// that prefer ranging over a stream to implementing a callback.
//
// Delivery keeps the fan-out's fire-and-forget contract: when the channel's
// buffer is full the frame is dropped for this engine rather than stalling
// the other consumers.
type ChannelEngine struct {
	stream chan frame.PCMFrame
}

// NewChannelEngine returns a ChannelEngine buffering up to buffer frames.
func NewChannelEngine(buffer int) *ChannelEngine {
	return &ChannelEngine{
		stream: make(chan frame.PCMFrame, buffer),
	}
}

// Receive implements Engine.
func (e *ChannelEngine) Receive(f frame.PCMFrame) {
	select {
	case e.stream <- f:
	default:
	}
}

// Stream returns the channel frames are delivered on.
func (e *ChannelEngine) Stream() <-chan frame.PCMFrame {
	return e.stream
}
