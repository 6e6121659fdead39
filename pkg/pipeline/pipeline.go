// Package pipeline orchestrates the live capture pipeline: raw blocks from
// a capture device are forwarded to an isolated processing unit, and every
// completed output frame is distributed to each registered engine. A
// bounded recording snapshot can run alongside the live fan-out without
// disturbing it.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/processor"
)

const (
	// DefaultFrameLength is the number of samples per output frame.
	DefaultFrameLength = 512

	// DefaultOutputSampleRate is the rate of the emitted PCM stream in Hz.
	DefaultOutputSampleRate = 16000

	// DefaultDumpDuration applies when DumpRecording is asked for a
	// non-positive duration.
	DefaultDumpDuration = 3 * time.Second
)

// State is the lifecycle position of a Pipeline.
type State int

const (
	// StateActive: capture blocks flow to the processing unit and frames
	// flow to every engine.
	StateActive State = iota
	// StatePaused: the device stays attached but raw blocks are dropped.
	StatePaused
	// StateReleased: terminal; all resources freed.
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StatePaused:
		return "paused"
	case StateReleased:
		return "released"
	}
	return "?"
}

// RecordingResult resolves one DumpRecording request: either a packaged
// recording or the error that abandoned it.
type RecordingResult struct {
	Recording processor.Recording
	Err       error
}

// Option adjusts pipeline construction.
type Option func(*config)

type config struct {
	engines          []Engine
	startPaused      bool
	frameLength      int
	outputSampleRate int
	logger           *slog.Logger
}

// WithEngines sets the consumer set. Membership is fixed for the lifetime
// of the pipeline; frames are delivered in registration order.
func WithEngines(engines ...Engine) Option {
	return func(c *config) { c.engines = engines }
}

// WithStartPaused constructs the pipeline in the Paused state instead of
// immediately forwarding capture blocks.
func WithStartPaused() Option {
	return func(c *config) { c.startPaused = true }
}

// WithFrameLength overrides the output frame length in samples.
func WithFrameLength(n int) Option {
	return func(c *config) { c.frameLength = n }
}

// WithOutputSampleRate overrides the output sample rate in Hz.
func WithOutputSampleRate(rate int) Option {
	return func(c *config) { c.outputSampleRate = rate }
}

// WithLogger replaces the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Pipeline owns the capture device connection, the processing unit and the
// consumer set. Construct with New; a Pipeline whose construction failed
// holds no resources.
type Pipeline struct {
	logger  *slog.Logger
	uuid    uuid.UUID
	device  audiodevice.CaptureDevice
	unit    *processor.Unit
	engines []Engine

	mu     sync.Mutex
	state  State
	dumpCh chan RecordingResult // non-nil while a dump is outstanding

	captureDone chan struct{}
	releaseOnce sync.Once
	wg          sync.WaitGroup
}

// New validates the configuration, attaches to the capture device and
// starts the pipeline goroutines. The device must already be open; its
// stream is consumed from here on and its teardown is owned by Release.
func New(device audiodevice.CaptureDevice, opts ...Option) (*Pipeline, error) {
	cfg := config{
		frameLength:      DefaultFrameLength,
		outputSampleRate: DefaultOutputSampleRate,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if device == nil {
		return nil, fmt.Errorf("%w: capture device is nil", ErrInvalidConfiguration)
	}
	if cfg.frameLength <= 0 {
		return nil, fmt.Errorf("%w: frame length must be positive, got %d", ErrInvalidConfiguration, cfg.frameLength)
	}
	if cfg.outputSampleRate <= 0 {
		return nil, fmt.Errorf("%w: output sample rate must be positive, got %d", ErrInvalidConfiguration, cfg.outputSampleRate)
	}

	uuid := uuid.New()
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("pipeline uuid", uuid)

	props := device.GetDeviceProperties()
	unit, err := processor.NewUnit(props.SampleRate, cfg.outputSampleRate, cfg.frameLength, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	state := StateActive
	if cfg.startPaused {
		state = StatePaused
	}

	p := &Pipeline{
		logger:      logger,
		uuid:        uuid,
		device:      device,
		unit:        unit,
		engines:     cfg.engines,
		state:       state,
		captureDone: make(chan struct{}),
	}

	p.wg.Add(2)
	go p.runCapture()
	go p.runFrames()
	go p.runDumps()

	logger.Info("pipeline started",
		"state", state,
		"inputSampleRate", props.SampleRate,
		"outputSampleRate", cfg.outputSampleRate,
		"frameLength", cfg.frameLength,
		"engines", len(cfg.engines),
	)

	return p, nil
}

// runCapture forwards raw blocks to the processing unit while Active and
// drops them while Paused. Exits when the device stream closes.
func (p *Pipeline) runCapture() {
	defer close(p.captureDone)

	for block := range p.device.GetStream() {
		if p.State() == StateActive {
			p.unit.Process(block)
		}
	}
}

// runFrames distributes every completed output frame to each engine in
// registration order. Delivery is fire-and-forget: an engine's Receive is
// its own responsibility.
func (p *Pipeline) runFrames() {
	defer p.wg.Done()

	for f := range p.unit.Frames() {
		for _, engine := range p.engines {
			engine.Receive(f)
		}
	}
}

// runDumps resolves the pending dump request when the processing unit
// reports a session outcome, failure included: a caller blocked on the
// one-shot must always hear back.
func (p *Pipeline) runDumps() {
	defer p.wg.Done()

	for res := range p.unit.Dumps() {
		result := RecordingResult{Recording: res.Recording, Err: res.Err}
		if !p.resolveDump(result) {
			p.logger.Warn("discarding recording outcome with no pending request",
				"samples", res.Recording.Samples, "err", res.Err)
		}
	}
}

// resolveDump fulfils the outstanding one-shot dump result, if any, exactly
// once. Returns false when no request was pending.
func (p *Pipeline) resolveDump(result RecordingResult) bool {
	p.mu.Lock()
	ch := p.dumpCh
	p.dumpCh = nil
	p.mu.Unlock()

	if ch == nil {
		return false
	}
	ch <- result
	close(ch)
	return true
}

// Start resumes forwarding capture blocks to the processing unit.
// Idempotent; returns ErrPipelineReleased after Release.
func (p *Pipeline) Start() error {
	return p.setState(StateActive)
}

// Resume is an alias of Start.
func (p *Pipeline) Resume() error {
	return p.Start()
}

// Pause stops forwarding capture blocks while keeping the device attached.
// Idempotent; returns ErrPipelineReleased after Release.
func (p *Pipeline) Pause() error {
	return p.setState(StatePaused)
}

func (p *Pipeline) setState(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateReleased {
		return ErrPipelineReleased
	}
	p.state = next
	return nil
}

// DumpRecording arms a recording snapshot of duration d (DefaultDumpDuration
// when d is non-positive) and returns a one-shot channel carrying the
// result. The channel resolves exactly once: with the packaged recording,
// or with ErrPipelineReleased if the pipeline is released first. A second
// request while one is outstanding is rejected with ErrRecordingInProgress
// and does not disturb the first.
//
// The recording accumulates only while the pipeline is Active, since paused
// pipelines forward no blocks.
func (p *Pipeline) DumpRecording(d time.Duration) (<-chan RecordingResult, error) {
	if d <= 0 {
		d = DefaultDumpDuration
	}

	p.mu.Lock()
	if p.state == StateReleased {
		p.mu.Unlock()
		return nil, ErrPipelineReleased
	}
	if p.dumpCh != nil {
		p.mu.Unlock()
		return nil, ErrRecordingInProgress
	}
	ch := make(chan RecordingResult, 1)
	p.dumpCh = ch
	p.mu.Unlock()

	p.unit.StartDump(d)
	return ch, nil
}

// Release is the idempotent terminal transition: it stops forwarding,
// rejects any outstanding dump with ErrPipelineReleased, tears down the
// capture device and shuts the processing unit. Only the first call has any
// effect; it returns once the pipeline is fully quiet.
func (p *Pipeline) Release() error {
	p.releaseOnce.Do(func() {
		p.mu.Lock()
		p.state = StateReleased
		p.mu.Unlock()

		// An abandoned dump resolves with an error rather than hanging its
		// caller forever.
		p.resolveDump(RecordingResult{Err: ErrPipelineReleased})

		// Closing the device ends the capture stream; wait for the capture
		// loop so nothing races the unit shutdown below.
		p.device.Close()
		<-p.captureDone

		p.unit.Reset()
		p.unit.Close()
		p.wg.Wait()

		p.logger.Info("pipeline released")
	})
	return nil
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsRecording reports whether a dump request is outstanding.
func (p *Pipeline) IsRecording() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dumpCh != nil
}

// IsReleased reports whether the pipeline has reached its terminal state.
func (p *Pipeline) IsReleased() bool {
	return p.State() == StateReleased
}

// Device exposes the underlying capture device for advanced external use.
// Callers must not close it; its lifecycle belongs to Release.
func (p *Pipeline) Device() audiodevice.CaptureDevice {
	return p.device
}
