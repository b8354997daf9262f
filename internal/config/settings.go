// Package config loads the closed set of recognized options (spec.md
// §6.4) via viper, grounded on the teacher's internal/config/settings.go
// Load() shape.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/asrhub/asrhub/internal/errs"
)

type PoolConfig struct {
	Size         int           `mapstructure:"size"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

type VADConfig struct {
	ModelPath string  `mapstructure:"model_path"`
	Threshold float64 `mapstructure:"threshold"`
}

type WakeWordConfig struct {
	ModelPath string  `mapstructure:"model_path"`
	Threshold float64 `mapstructure:"threshold"`
	Keyword   string  `mapstructure:"keyword"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"password"`
}

// Settings is the closed configuration surface spec.md §6.4 names.
// Anything not listed there is deliberately absent.
type Settings struct {
	Env   string `mapstructure:"env"`
	Debug bool   `mapstructure:"debug"`

	PreRollDuration     time.Duration `mapstructure:"pre_roll_duration"`
	TailPaddingDuration time.Duration `mapstructure:"tail_padding_duration"`
	SilenceThreshold    time.Duration `mapstructure:"silence_threshold"`
	MaxHistoryDuration  time.Duration `mapstructure:"max_history_duration"`
	ChunkDuration       time.Duration `mapstructure:"chunk_duration"`

	Pool     PoolConfig     `mapstructure:"pool"`
	VAD      VADConfig      `mapstructure:"vad"`
	WakeWord WakeWordConfig `mapstructure:"wakeword"`
	Redis    RedisConfig    `mapstructure:"redis"`

	RecordingsDir string `mapstructure:"recordings_dir"`
}

// Defaults matches spec.md §6.4's stated defaults where one is given.
func Defaults() Settings {
	return Settings{
		Env:                 "dev",
		PreRollDuration:     1 * time.Second,
		TailPaddingDuration: 300 * time.Millisecond,
		SilenceThreshold:    1 * time.Second,
		MaxHistoryDuration:  30 * time.Second,
		ChunkDuration:       100 * time.Millisecond,
		Pool:                PoolConfig{Size: 4, LeaseTimeout: 5 * time.Second},
		VAD:                 VADConfig{Threshold: 0.5},
		WakeWord:            WakeWordConfig{Threshold: 0.5, Keyword: "hey_asrhub"},
		RecordingsDir:       "./recordings",
	}
}

// Load reads config_<env>.yaml from the conventional search path
// (current dir, ./config, /etc/asrhub), or the file named by
// ASRHUB_CONFIG, overlaying it onto Defaults(). No config file on the
// search path is tolerated (defaults stand); a file named by ASRHUB_CONFIG
// that cannot be read, or a malformed one, is a config_error, fatal at
// init per spec.md §7.
func Load() (*Settings, error) {
	settings := Defaults()

	if cfgPath := os.Getenv("ASRHUB_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config_" + genEnv())
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/asrhub")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound {
			return &settings, nil
		}
		return nil, fmt.Errorf("config: read config: %w: %w", errs.ErrConfig, err)
	}
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w: %w", errs.ErrConfig, err)
	}
	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
