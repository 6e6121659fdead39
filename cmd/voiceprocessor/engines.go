package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/mikob/web-voice-processor/pkg/frame"
)

// levelMeterEngine logs the RMS level of the incoming stream roughly once
// per second.
type levelMeterEngine struct {
	framesPerReport int
	frameCount      int
	sumSquares      float64
	sampleCount     int
}

func newLevelMeterEngine(sampleRate, frameLength int) *levelMeterEngine {
	framesPerReport := sampleRate / frameLength
	if framesPerReport < 1 {
		framesPerReport = 1
	}
	return &levelMeterEngine{framesPerReport: framesPerReport}
}

func (e *levelMeterEngine) Receive(f frame.PCMFrame) {
	for _, s := range f {
		v := float64(s) / 32767
		e.sumSquares += v * v
	}
	e.sampleCount += len(f)
	e.frameCount++

	if e.frameCount%e.framesPerReport != 0 {
		return
	}

	rms := math.Sqrt(e.sumSquares / float64(e.sampleCount))
	db := 20 * math.Log10(rms+1e-9)
	slog.Info("input level", "rms", fmt.Sprintf("%.4f", rms), "dBFS", fmt.Sprintf("%.1f", db))
	e.sumSquares = 0
	e.sampleCount = 0
}

// wavSinkEngine appends every received frame to a WAV file on disk.
type wavSinkEngine struct {
	file    *os.File
	encoder *wav.Encoder
	buf     *goaudio.IntBuffer
}

func newWavSinkEngine(path string, sampleRate int) (*wavSinkEngine, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &wavSinkEngine{
		file:    f,
		encoder: wav.NewEncoder(f, sampleRate, 16, 1, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
			SourceBitDepth: 16,
		},
	}, nil
}

func (e *wavSinkEngine) Receive(f frame.PCMFrame) {
	e.buf.Data = e.buf.Data[:0]
	for _, s := range f {
		e.buf.Data = append(e.buf.Data, int(s))
	}
	if err := e.encoder.Write(e.buf); err != nil {
		slog.Error("error while writing output frame", "err", err)
	}
}

// Close finalizes the WAV header. Call only after the pipeline is released,
// so no Receive is in flight.
func (e *wavSinkEngine) Close() error {
	if err := e.encoder.Close(); err != nil {
		e.file.Close()
		return fmt.Errorf("failed to finalize output file: %w", err)
	}
	return e.file.Close()
}
