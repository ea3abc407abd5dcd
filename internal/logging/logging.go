// Package logging builds the command-line logger and turns scheduler
// lifecycle events into log lines.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bpradana/tofu"
)

// New returns a console logger at info level, or debug when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// TaskHooks logs node starts, completions and skips at debug level and
// failures, with the node's properties, at error level.
func TaskHooks(log *zap.Logger) tofu.Hooks {
	fields := func(event tofu.TaskEvent) []zap.Field {
		return []zap.Field{
			zap.String("node", event.Metadata.ID),
			zap.String("plugin", event.Metadata.Plugin),
		}
	}
	return tofu.Hooks{
		OnStart: func(_ context.Context, event tofu.TaskEvent) {
			log.Debug("node started", append(fields(event), zap.Strings("inputs", event.Metadata.Inputs))...)
		},
		OnSuccess: func(_ context.Context, event tofu.TaskEvent) {
			log.Debug("node finished", append(fields(event),
				zap.Duration("duration", event.Metrics.Duration),
				zap.Int("frames", event.Metrics.Frames))...)
		},
		OnFailure: func(_ context.Context, event tofu.TaskEvent) {
			log.Error("node failed", append(fields(event),
				zap.Any("properties", event.Metadata.Properties),
				zap.Error(event.Metrics.Error))...)
		},
		OnSkip: func(_ context.Context, event tofu.TaskEvent) {
			log.Debug("node skipped", append(fields(event), zap.Error(event.Metrics.Error))...)
		},
	}
}
