package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config 日誌設定
type Config struct {
	Level      string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	TimeFormat string `yaml:"time_format"`
	Pretty     bool   `yaml:"pretty"`
}

// New 以預設設定 (info、RFC3339、JSON 輸出) 建立 logger
func New(service string) zerolog.Logger {
	return NewWithConfig(service, Config{
		Level:      "info",
		TimeFormat: time.RFC3339,
	})
}

// NewWithConfig 依設定建立 logger，輸出到 stdout
func NewWithConfig(service string, cfg Config) zerolog.Logger {
	return newLogger(os.Stdout, service, cfg)
}

func newLogger(out io.Writer, service string, cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	if cfg.Pretty {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				s, _ := i.(string)
				return colorizeLevel(s)
			},
		}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Logger()
}

// Printf 讓 zerolog 可以當作只需要 Printf 的 logger 使用 (例如 GORM)
type Printf struct {
	Logger zerolog.Logger
	Level  zerolog.Level
}

func (p Printf) Printf(format string, args ...interface{}) {
	p.Logger.WithLevel(p.Level).Msg(fmt.Sprintf(format, args...))
}

func colorizeLevel(level string) string {
	switch level {
	case "trace":
		return "\033[35m" + level + "\033[0m" // Magenta
	case "debug":
		return "\033[36m" + level + "\033[0m" // Cyan
	case "info":
		return "\033[32m" + level + "\033[0m" // Green
	case "warn":
		return "\033[33m" + level + "\033[0m" // Yellow
	case "error":
		return "\033[31m" + level + "\033[0m" // Red
	case "fatal", "panic":
		return "\033[91m" + level + "\033[0m" // Bright Red
	default:
		return level
	}
}
