// Package logging builds the service's structured zap logger and carries the
// HTTP logging and recovery middleware.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the logger settings.
type Config struct {
	// Level is the minimum level to output (debug, info, warn, error).
	Level string
	// Format is the encoder: json or console.
	Format string
	// Output is stdout, stderr, or a file path.
	Output string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{Level: "info", Format: "json", Output: "stderr"}
}

// New builds a zap logger from the configuration.
func New(cfg *Config) (*zap.Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	var enc zapcore.Encoder
	switch cfg.Format {
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink, err := openSink(cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("logging: open output %q: %w", cfg.Output, err)
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core, zap.AddCaller()), nil
}

func openSink(output string) (zapcore.WriteSyncer, error) {
	switch output {
	case "", "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return zapcore.Lock(f), nil
	}
}
