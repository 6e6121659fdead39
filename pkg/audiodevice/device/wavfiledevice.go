package device

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/frame"
)

// WAVFileCaptureDevice replays a .WAV file as if it were a live microphone,
// emitting raw blocks at the file's own sample rate and at real-time pace.
// Multichannel files are downmixed to mono by averaging. The stream closes on
// its own once the file runs out.
type WAVFileCaptureDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	sampleRate int
	blockSize  int
	sinkStream chan frame.PCMBlock

	done         chan struct{}
	shutdownOnce sync.Once
}

// NewWAVFileCaptureDevice loads the file at audioFilePath and starts
// streaming immediately. blockSize is the number of mono samples per emitted
// block; the pacing between blocks follows from it and the file's rate.
func NewWAVFileCaptureDevice(audioFilePath string, blockSize int) (*WAVFileCaptureDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"wav file capture device uuid", uuid,
	)

	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}

	f, err := os.Open(audioFilePath)
	if err != nil {
		return nil, fmt.Errorf("could not open audio file %q: %w", audioFilePath, err)
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		f.Close()
		if err := decoder.Err(); err != nil {
			return nil, fmt.Errorf("%q does not decode as WAV: %w", audioFilePath, err)
		}
		return nil, fmt.Errorf("%q does not decode as WAV", audioFilePath)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not read PCM data from %q: %w", audioFilePath, err)
	}
	f.Close()

	numChans := buf.Format.NumChannels
	if numChans <= 0 {
		numChans = 1
	}
	samples := downmixToMono(buf.Data, numChans, decoder.BitDepth)

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", buf.Format.SampleRate,
		"channels", numChans,
		"samples", len(samples),
	)

	d := &WAVFileCaptureDevice{
		logger:     logger,
		uuid:       uuid,
		sampleRate: buf.Format.SampleRate,
		blockSize:  blockSize,
		sinkStream: make(chan frame.PCMBlock),
		done:       make(chan struct{}),
	}

	go d.stream(samples)

	return d, nil
}

// stream paces the decoded samples out in blockSize chunks. It is the only
// writer and the only closer of the sink stream.
func (d *WAVFileCaptureDevice) stream(samples []float32) {
	defer close(d.sinkStream)

	blockDuration := time.Duration(d.blockSize) * time.Second / time.Duration(d.sampleRate)
	ticker := time.NewTicker(blockDuration)
	defer ticker.Stop()

	for start := 0; start < len(samples); start += d.blockSize {
		end := min(start+d.blockSize, len(samples))
		block := make(frame.PCMBlock, end-start)
		copy(block, samples[start:end])

		select {
		case <-ticker.C:
		case <-d.done:
			return
		}
		select {
		case d.sinkStream <- block:
		case <-d.done:
			return
		}
	}
	d.logger.Debug("finished streaming audio file")
}

func (d *WAVFileCaptureDevice) GetStream() <-chan frame.PCMBlock {
	return d.sinkStream
}

func (d *WAVFileCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.sampleRate,
		NumChannels: 1,
	}
}

func (d *WAVFileCaptureDevice) Close() {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		close(d.done)
	})
}

// downmixToMono converts interleaved integer PCM to mono float32 in [-1, 1],
// averaging across channels.
func downmixToMono(data []int, numChans int, bitDepth uint16) []float32 {
	scale := float32(math.MaxInt16)
	switch bitDepth {
	case 8:
		scale = float32(math.MaxInt8)
	case 24:
		scale = float32(1<<23 - 1)
	case 32:
		scale = float32(math.MaxInt32)
	}

	frames := len(data) / numChans
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < numChans; c++ {
			sum += float32(data[i*numChans+c]) / scale
		}
		samples[i] = sum / float32(numChans)
	}
	return samples
}
