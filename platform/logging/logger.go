package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config содержит конфигурацию logger-а
type Config struct {
	ServiceName string
	// Env окружение (local/docker); от него зависят формат и caller по умолчанию
	Env string
	// Level уровень логирования (debug/info/warn/error), по умолчанию info
	Level string
	// Format "json" | "console"; по умолчанию docker=json, иначе console
	Format string
	// Output куда писать логи, по умолчанию os.Stderr
	Output io.Writer
}

// New создаёт zap.Logger. Ко всем записям добавляются поля service и env.
// В local окружении добавляется caller, в docker - нет.
func New(cfg Config) (*zap.Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "console"
		if cfg.Env == "docker" {
			cfg.Format = "json"
		}
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil || level < zapcore.DebugLevel || level > zapcore.ErrorLevel {
		return nil, fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Level)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console":
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("invalid log format: %s (must be json/console)", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(cfg.Output), level)

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Env != "docker" {
		opts = append(opts, zap.AddCaller())
	}

	return zap.New(core, opts...).With(
		zap.String("service", cfg.ServiceName),
		zap.String("env", cfg.Env),
	), nil
}

// Sync сбрасывает буфер, игнорируя ошибку sync /dev/stderr на некоторых системах
func Sync(log *zap.Logger) {
	_ = log.Sync()
}
