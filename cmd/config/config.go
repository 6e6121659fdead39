package config

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/viper"
)

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("capturedevice", "")
	viper.SetDefault("inputfile", "")
	viper.SetDefault("capturesamplerate", 48000)
	viper.SetDefault("captureblocksize", 4096)
	viper.SetDefault("outputsamplerate", 16000)
	viper.SetDefault("framelength", 512)
	viper.SetDefault("startpaused", false)
	viper.SetDefault("outfile", "")
	viper.SetDefault("dumpduration", "0s")
	viper.SetDefault("dumpfile", "dump.wav")
}

func LoadConfig(configFilePath string) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			slog.Info("no config file found, using defaults", "configFilePath", configFilePath)
		} else {
			slog.Error("error during config read", "err", err)
			panic(err)
		}
	}
}
