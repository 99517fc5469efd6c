package logger

import (
	"github.com/meterbridge/meterbridge/internal/config"
	"github.com/meterbridge/meterbridge/internal/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.SugaredLogger to provide logging functionality
type Logger struct {
	*zap.SugaredLogger
}

// Global logger for convenience in scripts; everywhere else prefer
// dependency injection.
var L *Logger

func init() {
	L, _ = NewLogger(config.GetDefaultConfig())
}

// NewLogger creates and returns a new Logger instance
func NewLogger(cfg *config.Configuration) (*Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.TimeKey = "timestamp"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel(cfg.Logging.Level))

	zapLogger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	return &Logger{
		SugaredLogger: zapLogger.Sugar(),
	}, nil
}

func zapLevel(level types.LogLevel) zapcore.Level {
	switch level {
	case types.LogLevelDebug:
		return zapcore.DebugLevel
	case types.LogLevelWarn:
		return zapcore.WarnLevel
	case types.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
