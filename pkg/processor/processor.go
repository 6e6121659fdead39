// Package processor hosts the conversion side of the pipeline: a dedicated
// goroutine that resamples raw capture blocks, assembles fixed-length output
// frames, and services bounded recording snapshots.
//
// The unit communicates with the pipeline controller exclusively by message
// passing, so conversion work can never delay the real-time capture
// callback. Messages from a single producer are handled strictly in FIFO
// order, one at a time.
package processor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikob/web-voice-processor/pkg/frame"
	"github.com/mikob/web-voice-processor/pkg/resample"
)

const messageBufferSize = 16

// Inbound messages. Anything else arriving on the message channel is logged
// and ignored, since it can only mean a mismatched protocol.
type (
	processMsg   struct{ block frame.PCMBlock }
	startDumpMsg struct{ duration time.Duration }
	resetMsg     struct{}
)

// Unit is the isolated execution context running the Resampler, the
// FrameAssembler and the RecordingBuffer. All three are owned exclusively by
// the unit's goroutine; no other goroutine touches them.
type Unit struct {
	logger *slog.Logger

	resampler *resample.Resampler
	assembler *FrameAssembler
	recording *RecordingBuffer

	msgs   chan any
	frames chan frame.PCMFrame
	dumps  chan DumpResult

	shutdownOnce sync.Once
}

// DumpResult reports the outcome of one armed recording session: the
// packaged recording, or the packaging error that ended it.
type DumpResult struct {
	Recording Recording
	Err       error
}

// NewUnit validates the conversion configuration, spins up the processing
// goroutine and returns the unit. inputRate is the capture device's native
// rate; outputRate and frameLength shape the emitted frames and are fixed
// for the lifetime of the unit.
func NewUnit(inputRate, outputRate, frameLength int, logger *slog.Logger) (*Unit, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if frameLength <= 0 {
		return nil, fmt.Errorf("frame length must be positive, got %d", frameLength)
	}
	resampler, err := resample.New(inputRate, outputRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	u := &Unit{
		logger:    logger,
		resampler: resampler,
		assembler: NewFrameAssembler(frameLength),
		recording: NewRecordingBuffer(outputRate),
		msgs:      make(chan any, messageBufferSize),
		frames:    make(chan frame.PCMFrame, messageBufferSize),
		dumps:     make(chan DumpResult, 1),
	}

	go u.run()

	return u, nil
}

// Frames returns the stream of completed output frames. Closed when the
// unit shuts down.
func (u *Unit) Frames() <-chan frame.PCMFrame {
	return u.frames
}

// Dumps returns the stream of recording session outcomes, exactly one per
// armed session. Closed when the unit shuts down.
func (u *Unit) Dumps() <-chan DumpResult {
	return u.dumps
}

// Process hands one raw capture block to the unit. It never blocks: if the
// unit is running behind, the block is dropped with a warning rather than
// stalling the capture callback.
func (u *Unit) Process(block frame.PCMBlock) {
	select {
	case u.msgs <- processMsg{block: block}:
	default:
		u.logger.Warn("processing unit running behind, dropping capture block",
			"samples", len(block))
	}
}

// StartDump arms a recording session for the given duration. Unlike capture
// blocks, control messages are never dropped: the send blocks until the unit
// accepts it, so an armed session always reaches the recording buffer. If a
// session is already active the request is logged and ignored; the pipeline
// controller guards against concurrent dumps before it gets here.
func (u *Unit) StartDump(d time.Duration) {
	u.msgs <- startDumpMsg{duration: d}
}

// Reset cancels any active recording session and clears all resample and
// assembly carry-over state. Used before teardown. Never dropped; blocks
// until the unit accepts it.
func (u *Unit) Reset() {
	u.msgs <- resetMsg{}
}

// Close stops the processing goroutine. Idempotent; outbound channels close
// once all queued messages have been handled.
func (u *Unit) Close() {
	u.shutdownOnce.Do(func() {
		close(u.msgs)
	})
}

func (u *Unit) run() {
	defer close(u.frames)
	defer close(u.dumps)

	for msg := range u.msgs {
		u.handle(msg)
	}
}

// handle processes exactly one message. A panic inside conversion is
// recovered and the message dropped, so a malformed block cannot take the
// whole stream down.
func (u *Unit) handle(msg any) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("dropping message after processing panic",
				"type", fmt.Sprintf("%T", msg),
				"panic", r)
		}
	}()

	switch m := msg.(type) {
	case processMsg:
		u.handleProcess(m.block)

	case startDumpMsg:
		if err := u.recording.Start(m.duration); err != nil {
			u.logger.Warn("ignoring recording request", "err", err)
		}

	case resetMsg:
		u.recording.Cancel()
		u.resampler.Reset()
		u.assembler.Reset()

	default:
		u.logger.Warn("unexpected message across processing unit boundary, ignoring",
			"type", fmt.Sprintf("%T", msg))
	}
}

func (u *Unit) handleProcess(block frame.PCMBlock) {
	resampled := u.resampler.Process(block)
	if len(resampled) == 0 {
		return
	}

	if u.recording.Active() {
		rec, err := u.recording.Feed(resampled)
		if err != nil {
			// The session is already cancelled; report the failure so the
			// caller waiting on the dump is not left hanging.
			u.logger.Error("recording session failed", "err", err)
			u.dumps <- DumpResult{Err: err}
		} else if rec != nil {
			u.dumps <- DumpResult{Recording: *rec}
		}
	}

	for _, f := range u.assembler.Push(resampled) {
		u.frames <- f
	}
}
