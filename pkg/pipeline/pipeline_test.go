package pipeline

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/audiodevice/device"
	"github.com/mikob/web-voice-processor/pkg/frame"
)

const waitTimeout = 5 * time.Second

// collectorEngine records every delivered frame for later inspection.
type collectorEngine struct {
	mu     sync.Mutex
	frames []frame.PCMFrame
}

func (e *collectorEngine) Receive(f frame.PCMFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, f)
}

func (e *collectorEngine) snapshot() []frame.PCMFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]frame.PCMFrame(nil), e.frames...)
}

func (e *collectorEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.frames)
}

func newScriptedDevice(sampleRate int) *device.ScriptedCaptureDevice {
	return device.NewScriptedCaptureDevice(audiodevice.DeviceProperties{
		SampleRate:  sampleRate,
		NumChannels: 1,
	})
}

func rampBlock(start, n int) frame.PCMBlock {
	block := make(frame.PCMBlock, n)
	for i := range block {
		block[i] = float32(start+i) / 32767
	}
	return block
}

func waitForFrames(t *testing.T, e *collectorEngine, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.count() >= n },
		waitTimeout, time.Millisecond, "expected %d frames", n)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	dev := newScriptedDevice(16000)
	defer dev.Close()

	_, err = New(dev, WithFrameLength(0))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = New(dev, WithOutputSampleRate(-1))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestFramesReachEveryEngineInOrder(t *testing.T) {
	first := &collectorEngine{}
	second := &collectorEngine{}
	dev := newScriptedDevice(16000)

	p, err := New(dev, WithEngines(first, second), WithFrameLength(64))
	require.NoError(t, err)
	defer p.Release()

	// At matched rates a block of 257 samples converts to 256, filling four
	// frames whose values are the ramp indices.
	dev.Feed(rampBlock(0, 257))
	waitForFrames(t, first, 4)
	waitForFrames(t, second, 4)

	got := first.snapshot()
	require.Len(t, got, 4)
	for frameIdx, f := range got {
		require.Len(t, []int16(f), 64)
		for i, s := range f {
			require.Equal(t, int16(frameIdx*64+i), s,
				"frame %d sample %d", frameIdx, i)
		}
	}
	assert.Equal(t, got, second.snapshot(), "every engine sees the same stream")
}

func TestPipelineRunsWithNoEngines(t *testing.T) {
	dev := newScriptedDevice(16000)

	p, err := New(dev, WithFrameLength(64))
	require.NoError(t, err)

	dev.Feed(rampBlock(0, 257))
	assert.NoError(t, p.Release())
}

func TestPauseDropsBlocksAndResumeRestoresFlow(t *testing.T) {
	engine := &collectorEngine{}
	dev := newScriptedDevice(16000)

	p, err := New(dev, WithEngines(engine), WithFrameLength(64))
	require.NoError(t, err)
	defer p.Release()

	require.NoError(t, p.Pause())
	assert.Equal(t, StatePaused, p.State())
	dev.Feed(rampBlock(5000, 65)) // dropped, leaves no trace in the stream

	// The capture loop handles blocks one at a time, so this handoff
	// confirms the previous block was already dropped before the resume. An
	// empty block converts to nothing either way.
	dev.Feed(frame.PCMBlock{})

	require.NoError(t, p.Resume())
	assert.Equal(t, StateActive, p.State())
	dev.Feed(rampBlock(0, 65))
	waitForFrames(t, engine, 1)

	got := engine.snapshot()
	require.Len(t, got, 1, "the paused block must not surface later")
	for i, s := range got[0] {
		require.Equal(t, int16(i), s, "sample %d", i)
	}
}

func TestStartPausedHoldsBackBlocksUntilStart(t *testing.T) {
	engine := &collectorEngine{}
	dev := newScriptedDevice(16000)

	p, err := New(dev, WithEngines(engine), WithFrameLength(64), WithStartPaused())
	require.NoError(t, err)
	defer p.Release()

	assert.Equal(t, StatePaused, p.State())
	dev.Feed(rampBlock(5000, 65))
	dev.Feed(frame.PCMBlock{}) // confirms the block above was dropped

	require.NoError(t, p.Start())
	dev.Feed(rampBlock(0, 65))
	waitForFrames(t, engine, 1)

	got := engine.snapshot()
	require.Len(t, got, 1)
	assert.Equal(t, int16(0), got[0][0])
}

func TestDumpRecordingResolvesWithPackagedAudio(t *testing.T) {
	dev := newScriptedDevice(16000)

	p, err := New(dev)
	require.NoError(t, err)
	defer p.Release()

	ch, err := p.DumpRecording(10 * time.Millisecond) // 160 samples at 16 kHz
	require.NoError(t, err)
	assert.True(t, p.IsRecording())

	// A second request while the first is outstanding is rejected without
	// disturbing it.
	_, err = p.DumpRecording(time.Second)
	assert.ErrorIs(t, err, ErrRecordingInProgress)

	dev.Feed(rampBlock(0, 300))

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.GreaterOrEqual(t, res.Recording.Samples, 160)
		assert.Equal(t, 16000, res.Recording.SampleRate)
		assert.NotEmpty(t, res.Recording.Blob)
	case <-time.After(waitTimeout):
		t.Fatal("dump did not resolve")
	}

	require.Eventually(t, func() bool { return !p.IsRecording() },
		waitTimeout, time.Millisecond)

	// With the first resolved, a new request is accepted again.
	_, err = p.DumpRecording(10 * time.Millisecond)
	assert.NoError(t, err)
}

func TestReleaseResolvesPendingDump(t *testing.T) {
	dev := newScriptedDevice(16000)

	p, err := New(dev)
	require.NoError(t, err)

	ch, err := p.DumpRecording(time.Hour)
	require.NoError(t, err)

	require.NoError(t, p.Release())

	select {
	case res, ok := <-ch:
		require.True(t, ok)
		assert.ErrorIs(t, res.Err, ErrPipelineReleased)
	case <-time.After(waitTimeout):
		t.Fatal("abandoned dump did not resolve")
	}

	_, ok := <-ch
	assert.False(t, ok, "the one-shot channel closes after resolving")
}

func TestReleaseIsIdempotentAndTerminal(t *testing.T) {
	dev := newScriptedDevice(16000)

	p, err := New(dev, WithEngines(&collectorEngine{}))
	require.NoError(t, err)

	require.NoError(t, p.Release())
	require.NoError(t, p.Release())

	assert.True(t, p.IsReleased())
	assert.Equal(t, StateReleased, p.State())
	assert.ErrorIs(t, p.Start(), ErrPipelineReleased)
	assert.ErrorIs(t, p.Pause(), ErrPipelineReleased)

	_, err = p.DumpRecording(time.Second)
	assert.ErrorIs(t, err, ErrPipelineReleased)
}

func TestDownsamplingEndToEnd(t *testing.T) {
	const (
		inputRate   = 44100
		outputRate  = 16000
		frequency   = 440.0
		blockSize   = 4096
		inputBlocks = 2
	)

	first := &collectorEngine{}
	second := &collectorEngine{}
	dev := newScriptedDevice(inputRate)

	p, err := New(dev,
		WithEngines(first, second),
		WithOutputSampleRate(outputRate),
		WithFrameLength(512),
	)
	require.NoError(t, err)
	defer p.Release()

	for b := 0; b < inputBlocks; b++ {
		block := make(frame.PCMBlock, blockSize)
		for i := range block {
			n := b*blockSize + i
			block[i] = float32(math.Sin(2 * math.Pi * frequency * float64(n) / inputRate))
		}
		dev.Feed(block)
	}

	// 8192 input samples convert to roughly 2972 output samples, enough for
	// five full frames.
	waitForFrames(t, first, 5)
	waitForFrames(t, second, 5)

	got := first.snapshot()[:5]
	for frameIdx, f := range got {
		require.Len(t, []int16(f), 512)
		for i, s := range f {
			k := frameIdx*512 + i
			want := 32767 * math.Sin(2*math.Pi*frequency*float64(k)/outputRate)
			require.InDelta(t, want, float64(s), 100,
				"frame %d sample %d", frameIdx, i)
		}
	}
	assert.Equal(t, got, second.snapshot()[:5])
}
