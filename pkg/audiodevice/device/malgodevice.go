package device

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/google/uuid"

	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/frame"
)

const (
	// Capture rate requested from the host. The pipeline resamples to its
	// own output rate, so this only needs to be a rate the hardware is
	// comfortable with.
	defaultCaptureSampleRate = 48000

	// Samples per capture cycle.
	defaultBlockSize = 4096

	streamBufferedBlocks = 10
)

// MalgoCaptureDevice captures microphone audio through malgo (miniaudio)
// and implements the audiodevice.CaptureDevice interface. Capture is mono
// float32 at the configured rate; the host converts from whatever the
// hardware natively produces.
type MalgoCaptureDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	sampleRate  int
	blockSize   int
	dataChannel chan frame.PCMBlock

	done         chan struct{}
	shutdownOnce sync.Once
}

// MalgoOption adjusts capture parameters before the device opens.
type MalgoOption func(*malgoConfig)

type malgoConfig struct {
	sampleRate int
	blockSize  int
	deviceName string
}

// WithCaptureSampleRate overrides the rate requested from the host device.
func WithCaptureSampleRate(rate int) MalgoOption {
	return func(c *malgoConfig) { c.sampleRate = rate }
}

// WithBlockSize overrides the number of samples delivered per capture cycle.
func WithBlockSize(size int) MalgoOption {
	return func(c *malgoConfig) { c.blockSize = size }
}

// WithDeviceName selects a specific capture device by case-insensitive name
// substring instead of the system default.
func WithDeviceName(name string) MalgoOption {
	return func(c *malgoConfig) { c.deviceName = name }
}

// NewMalgoCaptureDevice opens the requested capture device and starts
// streaming immediately. Permission and device failures surface here as
// errors; no device resources are left allocated on failure.
func NewMalgoCaptureDevice(opts ...MalgoOption) (*MalgoCaptureDevice, error) {
	cfg := malgoConfig{
		sampleRate: defaultCaptureSampleRate,
		blockSize:  defaultBlockSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, fmt.Errorf("capture sample rate must be positive, got %d", cfg.sampleRate)
	}
	if cfg.blockSize <= 0 {
		return nil, fmt.Errorf("capture block size must be positive, got %d", cfg.blockSize)
	}

	uuid := uuid.New()
	logger := slog.Default().With("malgo capture device uuid", uuid)

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.sampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.blockSize)

	if cfg.deviceName != "" {
		id, err := findCaptureDevice(mctx, cfg.deviceName)
		if err != nil {
			teardownContext(mctx)
			return nil, err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	dataChannel := make(chan frame.PCMBlock, streamBufferedBlocks)
	done := make(chan struct{})

	// Runs on the host's real-time capture thread: convert and hand off,
	// never block.
	captureCallback := func(_, pcmData []byte, frameCount uint32) {
		select {
		case <-done:
			return
		default:
		}

		block := bytesToFloat32(pcmData)
		select {
		case dataChannel <- block:
		default:
			logger.Warn("capture stream full, dropping block", "samples", frameCount)
		}
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: captureCallback,
	})
	if err != nil {
		teardownContext(mctx)
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(mctx)
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	logger.Info("capture device started",
		"sampleRate", cfg.sampleRate,
		"blockSize", cfg.blockSize,
	)

	return &MalgoCaptureDevice{
		logger:      logger,
		uuid:        uuid,
		ctx:         mctx,
		device:      device,
		sampleRate:  cfg.sampleRate,
		blockSize:   cfg.blockSize,
		dataChannel: dataChannel,
		done:        done,
	}, nil
}

// GetStream returns the channel raw capture blocks arrive on.
func (d *MalgoCaptureDevice) GetStream() <-chan frame.PCMBlock {
	return d.dataChannel
}

// GetDeviceProperties reports the format blocks are delivered in.
func (d *MalgoCaptureDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.sampleRate,
		NumChannels: 1,
	}
}

// Close stops capture and releases all host audio resources. Idempotent.
func (d *MalgoCaptureDevice) Close() {
	d.shutdownOnce.Do(func() {
		close(d.done)

		_ = d.device.Stop()
		d.device.Uninit()
		teardownContext(d.ctx)

		close(d.dataChannel)
		d.logger.Info("capture device closed")
	})
}

// findCaptureDevice matches a capture device by name substring.
func findCaptureDevice(mctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name()), strings.ToLower(name)) {
			return info.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no capture device matching %q found", name)
}

func teardownContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

// bytesToFloat32 reinterprets the host's little-endian float32 sample bytes.
// The copy also detaches the block from the host-owned callback buffer.
func bytesToFloat32(b []byte) frame.PCMBlock {
	block := make(frame.PCMBlock, len(b)/4)
	for i := range block {
		block[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return block
}
