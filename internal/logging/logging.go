// Package logging builds the structured log sinks used across deepscout.
// Every component takes an explicit *zap.SugaredLogger; there is no global
// logger and nothing mutates process-wide output streams. Background research
// jobs get their own sink writing to logs/<job>.log so a job's trace can be
// read in isolation.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is the logging interface handed to components. It is an alias rather
// than a custom interface so call sites keep zap's full structured API.
type Sink = *zap.SugaredLogger

// New returns a console sink writing to stderr. With debug enabled the level
// drops to Debug and caller annotations are included.
func New(debug bool) Sink {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)

	opts := []zap.Option{}
	if debug {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(core, opts...).Sugar()
}

// NewJob returns a sink bound to a single research job. Output is teed to the
// parent sink and to logs/<name>.log under dir, with the job name attached as
// a structured field. The returned closer flushes and closes the job file.
func NewJob(parent Sink, dir, name string) (Sink, func() error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, name+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job log %s: %w", path, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(file),
		zapcore.DebugLevel,
	)

	combined := zapcore.NewTee(parent.Desugar().Core(), fileCore)
	logger := zap.New(combined).Sugar().With("job", name)

	closer := func() error {
		_ = logger.Sync()
		return file.Close()
	}
	return logger, closer, nil
}

// Nop returns a sink that discards everything. Used by tests and by callers
// that have no logging destination yet.
func Nop() Sink {
	return zap.NewNop().Sugar()
}
