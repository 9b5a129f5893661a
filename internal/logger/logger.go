// Package logger provides the single zap-backed logger used across the
// resolver, the Opal session layer, and the dev-harness CLIs.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var stdout = os.Stdout

var (
	once sync.Once
	base *zap.SugaredLogger
	lvl  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Logger returns the process-wide sugared logger, constructing it on first use.
func Logger() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

		core := zapcore.NewCore(
			zapcore.NewConsoleEncoder(cfg),
			zapcore.Lock(zapcore.AddSync(consoleWriter{})),
			lvl,
		)
		base = zap.New(core).Sugar()
	})
	return base
}

// SetLevel maps the config's log_level string (off/error/warn/info/debug/trace)
// onto the zap level. "trace" and "debug" both map to zap's Debug level; the
// distinction only matters for how verbosely individual call sites log, not
// for the underlying zap core.
func SetLevel(level string) {
	Logger() // ensure constructed
	switch level {
	case "off":
		lvl.SetLevel(zapcore.FatalLevel + 1)
	case "error":
		lvl.SetLevel(zap.ErrorLevel)
	case "warn":
		lvl.SetLevel(zap.WarnLevel)
	case "info", "":
		lvl.SetLevel(zap.InfoLevel)
	case "debug", "trace":
		lvl.SetLevel(zap.DebugLevel)
	}
}

// consoleWriter exists only so the sink can be swapped (e.g. to the firmware
// console) without touching the encoder/level plumbing above.
type consoleWriter struct{}

func (consoleWriter) Write(p []byte) (int, error) {
	return stdout.Write(p)
}
