package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix - префикс переменных окружения; "__" разделяет уровни вложенности
const EnvPrefix = "INTERVIEW_"

// DefaultAppConfigFile читается, если путь не задан явно
const DefaultAppConfigFile = "config.yaml"

// AppConfig - настройки приложения
type AppConfig struct {
	Backend       BackendConfig       `koanf:"backend"`
	Executor      ExecutorConfig      `koanf:"executor"`
	Feedback      FeedbackConfig      `koanf:"feedback"`
	Media         MediaConfig         `koanf:"media"`
	Timer         TimerConfig         `koanf:"timer"`
	Transcription TranscriptionConfig `koanf:"transcription"`
	Storage       StorageConfig       `koanf:"storage"`
	Log           LogConfig           `koanf:"log"`
	Telemetry     TelemetryConfig     `koanf:"telemetry"`
	Policy        PolicyConfig        `koanf:"policy"`
}

type BackendConfig struct {
	BaseURL string        `koanf:"base_url"`
	Token   string        `koanf:"token"`
	Timeout time.Duration `koanf:"timeout"`
}

type ExecutorConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type FeedbackConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

type MediaConfig struct {
	SampleInterval time.Duration `koanf:"sample_interval"`
	// VideoFile прикладывается к каждому фрагменту консольной камеры
	VideoFile string `koanf:"video_file"`
}

type TimerConfig struct {
	TickInterval time.Duration `koanf:"tick_interval"`
}

type TranscriptionConfig struct {
	RestartDelay time.Duration `koanf:"restart_delay"`
}

type StorageConfig struct {
	Driver string `koanf:"driver"` // file, sqlite, none
	Path   string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // text, json
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type PolicyConfig struct {
	Path string `koanf:"path"`
}

var appDefaults = map[string]interface{}{
	"backend.timeout":             60 * time.Second,
	"executor.timeout":            30 * time.Second,
	"feedback.poll_interval":      7 * time.Second,
	"media.sample_interval":       500 * time.Millisecond,
	"timer.tick_interval":         time.Second,
	"transcription.restart_delay": 250 * time.Millisecond,
	"storage.driver":              "file",
	"log.level":                   "info",
	"log.format":                  "text",
	"telemetry.service_name":      "interview-orchestrator",
}

// LoadAppConfig читает YAML файл (если он есть), затем переменные окружения INTERVIEW_*.
// Пустой path означает config.yaml в текущем каталоге.
func LoadAppConfig(path string) (*AppConfig, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = DefaultAppConfigFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Без файла работаем на переменных окружения
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for key, value := range appDefaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate проверяет настройки, нужные для запуска интервью
func (c *AppConfig) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	intervals := map[string]time.Duration{
		"backend.timeout":             c.Backend.Timeout,
		"feedback.poll_interval":      c.Feedback.PollInterval,
		"media.sample_interval":       c.Media.SampleInterval,
		"timer.tick_interval":         c.Timer.TickInterval,
		"transcription.restart_delay": c.Transcription.RestartDelay,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	switch c.Storage.Driver {
	case "file", "sqlite", "none":
	default:
		return fmt.Errorf("storage.driver must be file, sqlite or none, got %q", c.Storage.Driver)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
