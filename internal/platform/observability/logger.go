package observability

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "json"
)

// NewLogger constructs a zap logger emitting structured JSON. LOG_LEVEL selects the level and
// LOG_FORMAT=console switches to a human readable encoder for local runs.
func NewLogger() (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))))); err != nil {
		_ = level.UnmarshalText([]byte(defaultLogLevel))
	}

	encoding := strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if encoding != "console" {
		encoding = defaultLogFormat
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		NameKey:    "logger",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeDuration: zapcore.MillisDurationEncoder,
		CallerKey:      "caller",
		EncodeCaller:   zapcore.ShortCallerEncoder,
		StacktraceKey:  "stacktrace",
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// FromContext retrieves the request scoped logger, defaulting to a no-op logger.
func FromContext(ctx context.Context) *zap.Logger {
	return requestctx.Logger(ctx)
}

// PrintfAdapter adapts zap to printf-style logging interfaces such as the gorm logger writer.
type PrintfAdapter struct {
	logger *zap.SugaredLogger
}

// NewPrintfAdapter creates a PrintfAdapter backed by the supplied logger.
func NewPrintfAdapter(logger *zap.Logger) PrintfAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return PrintfAdapter{logger: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// Printf implements the Printf-style logging expected by legacy interfaces.
func (a PrintfAdapter) Printf(format string, args ...any) {
	a.logger.Infof(strings.TrimSpace(format), args...)
}

// EventLogger converts service log events into zap entries. Events whose name ends in
// "failed", "error" or "mismatch" are logged at warn level.
func EventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		zfields := make([]zap.Field, 0, len(fields)+2)
		zfields = append(zfields, zap.String("event", event))
		if traceID := requestctx.TraceID(ctx); traceID != "" {
			zfields = append(zfields, zap.String("trace_id", traceID))
		}
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		switch {
		case strings.HasSuffix(event, "failed"), strings.HasSuffix(event, "error"), strings.HasSuffix(event, "mismatch"):
			logger.Warn(event, zfields...)
		default:
			logger.Info(event, zfields...)
		}
	}
}
