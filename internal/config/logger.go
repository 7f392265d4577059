package config

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	base       *zap.Logger
)

// Logger returns the process logger. Level comes from RUNLOG_LOG_LEVEL and
// output is JSON on stdout.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		base = newLogger(StringValue("RUNLOG_LOG_LEVEL"))
	})
	return base
}

// SetLogger replaces the process logger, tests use zap.NewNop().
func SetLogger(l *zap.Logger) {
	loggerOnce.Do(func() {})
	base = l
}

func newLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	if BoolValue("RUNLOG_DEBUG") {
		zapLevel = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(os.Stdout)),
		zapLevel,
	)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2))
}

// Public methods
func LogInfo(ctx context.Context, msg string, fields ...zap.Field) {
	writeToLog(ctx, zapcore.InfoLevel, msg, fields)
}

func LogError(ctx context.Context, msg string, fields ...zap.Field) {
	writeToLog(ctx, zapcore.ErrorLevel, msg, fields)
}

func LogWarn(ctx context.Context, msg string, fields ...zap.Field) {
	writeToLog(ctx, zapcore.WarnLevel, msg, fields)
}

func LogDebug(ctx context.Context, msg string, fields ...zap.Field) {
	if GetContextDebug(ctx) || BoolValue("RUNLOG_DEBUG") {
		writeToLog(ctx, zapcore.DebugLevel, msg, fields)
	}
}

// Flush writes any buffered entries, call it before the process exits.
func Flush() {
	_ = Logger().Sync()
}

// Private methods
func writeToLog(ctx context.Context, level zapcore.Level, msg string, fields []zap.Field) {

	fields = append(fields,
		zap.String("cid", GetContextCorrelationId(ctx)),
		zap.String("elapsed", sinceCreated(ctx)),
	)
	if runID := GetContextRunID(ctx); runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}

	if ce := Logger().Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func sinceCreated(ctx context.Context) string {

	created := GetContextTimeCreated(ctx)
	if created == -1 {
		return "0.0s"
	}
	t := time.Since(time.Unix(created, 0)).Seconds()

	return strconv.FormatFloat(t, 'f', 1, 64) + "s"
}
