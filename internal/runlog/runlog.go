// Package runlog threads a *zap.Logger through a RunContext instead of the
// single process-wide global the source used, per the Design Notes'
// "Global state" guidance: components take a logger via their constructor.
package runlog

import (
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls where and how a run's logs are written.
type Config struct {
	Level       string // "debug","info","warn","error"
	FilePath    string // e.g. "results/run.log"; "" disables the file core
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
	JSON        bool
	Console     bool
	Quiet       bool // suppresses the console core regardless of Console
	Development bool
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

func fileCore(cfg Config, enc zapcore.Encoder, lvl zapcore.Level) zapcore.Core {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 10
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 5
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 14
	}
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	})
	return zapcore.NewCore(enc, w, lvl)
}

// New builds a run-scoped logger and a cleanup func that flushes it.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	jsonEncCfg := zap.NewProductionEncoderConfig()
	jsonEncCfg.TimeKey = "ts"
	jsonEncCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	jsonEncCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	jsonEnc := zapcore.NewJSONEncoder(jsonEncCfg)

	consoleEncCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05"))
	}
	consoleEnc := zapcore.NewConsoleEncoder(consoleEncCfg)

	var cores []zapcore.Core

	if cfg.FilePath != "" {
		enc := jsonEnc
		if !cfg.JSON {
			enc = consoleEnc
		}
		cores = append(cores, fileCore(cfg, enc, level))
	}

	if cfg.Console && !cfg.Quiet {
		w := zapcore.AddSync(os.Stdout)
		enc := consoleEnc
		if cfg.JSON {
			enc = jsonEnc
		}
		cores = append(cores, zapcore.NewCore(enc, w, level))
	}

	core := zapcore.NewTee(cores...)
	var opts []zap.Option
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zap.WarnLevel))
	} else {
		opts = append(opts, zap.AddStacktrace(zap.ErrorLevel))
	}
	opts = append(opts, zap.AddCaller())

	logger := zap.New(core, opts...)
	cleanup := func() { _ = logger.Sync() }
	return logger, cleanup, nil
}

// ForStory returns a child logger with runID/storyID fields attached, so
// log lines are correlatable without a global.
func ForStory(base *zap.Logger, runID, storyID string) *zap.Logger {
	return base.With(zap.String("runId", runID), zap.String("storyId", storyID))
}
