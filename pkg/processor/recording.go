package processor

import (
	"errors"
	"fmt"
	"io"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/mikob/web-voice-processor/pkg/frame"
)

// ErrRecordingInProgress is returned when a recording session is requested
// while another one is still accumulating.
var ErrRecordingInProgress = errors.New("a recording is already in progress")

// A Recording is one completed snapshot of the resampled stream, packaged as
// a mono 16-bit WAV container.
type Recording struct {
	// Blob is the complete WAV file contents.
	Blob []byte
	// Samples is the number of PCM samples captured. At least the requested
	// duration's worth; capture rounds up to the block that crossed the
	// target, never down.
	Samples    int
	SampleRate int
}

// Duration reports the captured audio length.
func (r Recording) Duration() time.Duration {
	return time.Duration(r.Samples) * time.Second / time.Duration(r.SampleRate)
}

// RecordingBuffer accumulates resampled samples for a bounded duration,
// independently of the live frame fan-out. At most one session is active at
// a time; completion fires exactly once per session.
//
// RecordingBuffer is owned exclusively by the processing unit goroutine and
// is not safe for concurrent use.
type RecordingBuffer struct {
	sampleRate int
	packager   func(samples []int16, sampleRate int) ([]byte, error)

	active        bool
	targetSamples int
	samples       []int16
}

// NewRecordingBuffer returns a buffer capturing at sampleRate, the
// pipeline's output rate.
func NewRecordingBuffer(sampleRate int) *RecordingBuffer {
	return &RecordingBuffer{
		sampleRate: sampleRate,
		packager:   packageWAV,
	}
}

// Start arms a new session capturing the next d worth of samples. The
// sample target rounds up, so the delivered recording is never shorter than
// requested.
func (b *RecordingBuffer) Start(d time.Duration) error {
	if b.active {
		return ErrRecordingInProgress
	}

	target := int((d*time.Duration(b.sampleRate) + time.Second - 1) / time.Second)
	if target <= 0 {
		target = 1
	}

	b.active = true
	b.targetSamples = target
	b.samples = make([]int16, 0, target)
	return nil
}

// Active reports whether a session is currently accumulating.
func (b *RecordingBuffer) Active() bool {
	return b.active
}

// Feed appends resampled samples to the active session, converting to
// 16-bit PCM to match the WAV packaging. Once the accumulated count reaches
// the target it packages the session and returns it, clearing the state so a
// new session may start; every other call returns nil.
func (b *RecordingBuffer) Feed(samples []float32) (*Recording, error) {
	if !b.active || len(samples) == 0 {
		return nil, nil
	}

	for _, s := range samples {
		b.samples = append(b.samples, frame.SaturateInt16(s))
	}
	if len(b.samples) < b.targetSamples {
		return nil, nil
	}

	blob, err := b.packager(b.samples, b.sampleRate)
	if err != nil {
		// Leave the session cleared either way; a broken session must not
		// wedge future recordings.
		b.Cancel()
		return nil, fmt.Errorf("failed to package recording: %w", err)
	}

	rec := &Recording{
		Blob:       blob,
		Samples:    len(b.samples),
		SampleRate: b.sampleRate,
	}
	b.Cancel()
	return rec, nil
}

// Cancel discards the active session, if any, without delivering it. Used on
// reset and release.
func (b *RecordingBuffer) Cancel() {
	b.active = false
	b.targetSamples = 0
	b.samples = nil
}

// packageWAV encodes mono 16-bit PCM into an in-memory WAV container.
func packageWAV(samples []int16, sampleRate int) ([]byte, error) {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}

	buf := &writeSeekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, 16, 1, 1)
	err := enc.Write(&goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           data,
	})
	if err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.data, nil
}

// writeSeekBuffer is a minimal in-memory io.WriteSeeker for the wav encoder,
// which needs to seek back and patch chunk sizes into the header.
type writeSeekBuffer struct {
	data []byte
	pos  int
}

func (b *writeSeekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *writeSeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("seek before start of buffer")
	}
	b.pos = int(next)
	return next, nil
}
