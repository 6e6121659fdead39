package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/viper"

	"github.com/mikob/web-voice-processor/cmd/config"
	"github.com/mikob/web-voice-processor/internal/utils"
	"github.com/mikob/web-voice-processor/pkg/audiodevice"
	"github.com/mikob/web-voice-processor/pkg/audiodevice/device"
	"github.com/mikob/web-voice-processor/pkg/pipeline"
)

// initializeCaptureDevice opens the configured audio source: a WAV file when
// inputfile is set, the microphone otherwise.
func initializeCaptureDevice() audiodevice.CaptureDevice {
	if inputFile := viper.GetString("inputfile"); inputFile != "" {
		src, err := device.NewWAVFileCaptureDevice(inputFile, viper.GetInt("captureblocksize"))
		if err != nil {
			slog.Error("error while opening input file", "err", err)
			panic(err)
		}
		return src
	}

	opts := []device.MalgoOption{
		device.WithCaptureSampleRate(viper.GetInt("capturesamplerate")),
		device.WithBlockSize(viper.GetInt("captureblocksize")),
	}
	if name := viper.GetString("capturedevice"); name != "" {
		opts = append(opts, device.WithDeviceName(name))
	}

	mic, err := device.NewMalgoCaptureDevice(opts...)
	if err != nil {
		slog.Error("error while opening capture device", "err", err)
		panic(err)
	}
	return mic
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	// --------------------------------------------------------------------------------

	outputSampleRate := viper.GetInt("outputsamplerate")

	engines := []pipeline.Engine{
		newLevelMeterEngine(outputSampleRate, viper.GetInt("framelength")),
	}

	var sink *wavSinkEngine
	if outFile := viper.GetString("outfile"); outFile != "" {
		sink, err = newWavSinkEngine(outFile, outputSampleRate)
		if err != nil {
			slog.Error("error while opening output file", "err", err)
			panic(err)
		}
		engines = append(engines, sink)
	}

	source := initializeCaptureDevice()

	pipelineOpts := []pipeline.Option{
		pipeline.WithEngines(engines...),
		pipeline.WithFrameLength(viper.GetInt("framelength")),
		pipeline.WithOutputSampleRate(outputSampleRate),
	}
	if viper.GetBool("startpaused") {
		pipelineOpts = append(pipelineOpts, pipeline.WithStartPaused())
	}

	p, err := pipeline.New(source, pipelineOpts...)
	if err != nil {
		source.Close()
		slog.Error("error while constructing pipeline", "err", err)
		panic(err)
	}

	// --------------------------------------------------------------------------------

	if dumpDuration := viper.GetDuration("dumpduration"); dumpDuration > 0 {
		resultCh, err := p.DumpRecording(dumpDuration)
		if err != nil {
			slog.Error("error while requesting recording dump", "err", err)
		} else {
			go func() {
				result := <-resultCh
				if result.Err != nil {
					slog.Warn("recording dump abandoned", "err", result.Err)
					return
				}
				dumpFile := viper.GetString("dumpfile")
				if err := os.WriteFile(dumpFile, result.Recording.Blob, 0644); err != nil {
					slog.Error("error while writing recording dump", "err", err)
					return
				}
				slog.Info("recording dump written",
					"file", dumpFile,
					"samples", result.Recording.Samples,
					"duration", result.Recording.Duration(),
				)
			}()
		}
	}

	// --------------------------------------------------------------------------------

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	slog.Info("shutting down")
	p.Release()
	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Error("error while closing output file", "err", err)
		}
	}
}
