package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var zapLevelMap = map[string]zapcore.Level{
	"ERROR": zapcore.ErrorLevel,
	"WARN":  zapcore.WarnLevel,
	"INFO":  zapcore.InfoLevel,
	"DEBUG": zapcore.DebugLevel,
}

// ZapLoggerConfig wraps configuration for a zap backed Logger.
type ZapLoggerConfig struct {
	Output        string                 // Location for logs to be output such as "stdout", see LogWriter
	ServiceName   string                 // Value for the "service" key
	Level         string                 // Minimum level that will be output
	Format        string                 // "console" for one line human readable output, anything else for JSON
	InitialFields map[string]interface{} // Key value pairs logged with every message
}

// ZapLogger is a Logger backed by a zap SugaredLogger.
type ZapLogger struct {
	level zap.AtomicLevel
	*zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger from the provided configuration, returning error (if any).
func NewZapLogger(lc ZapLoggerConfig) (*ZapLogger, error) {
	config := zap.NewProductionConfig()
	if lc.Output == "" {
		lc.Output = "stdout"
	}
	config.OutputPaths = []string{lc.Output}
	config.Level = zap.NewAtomicLevelAt(levelOrError(lc.Level))
	config.EncoderConfig.NameKey = "service"
	config.EncoderConfig.MessageKey = "message"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if strings.EqualFold(lc.Format, "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.StacktraceKey = ""
	}
	config.InitialFields = lc.InitialFields
	zapLogger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("building zap logger: %w", err)
	}
	return &ZapLogger{
		level:         config.Level,
		SugaredLogger: zapLogger.Sugar().Named(lc.ServiceName),
	}, nil
}

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() *ZapLogger {
	return &ZapLogger{
		level:         zap.NewAtomicLevel(),
		SugaredLogger: zap.NewNop().Sugar(),
	}
}

func levelOrError(level string) zapcore.Level {
	if zapLevel, exists := zapLevelMap[strings.ToUpper(level)]; exists {
		return zapLevel
	}
	return zapcore.ErrorLevel
}

// SetLevel changes the minimum output level. Unknown levels select ERROR.
func (zl *ZapLogger) SetLevel(level string) {
	zl.level.SetLevel(levelOrError(level))
}

// Named returns a child logger with name appended to the "service" key.
func (zl *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{level: zl.level, SugaredLogger: zl.SugaredLogger.Named(name)}
}

// Println logs at info level and is included for interface compatibility.
func (zl *ZapLogger) Println(v ...interface{}) {
	zl.SugaredLogger.Infoln(v...)
}

// Printf logs at info level and is included for interface compatibility.
func (zl *ZapLogger) Printf(format string, v ...interface{}) {
	zl.SugaredLogger.Infof(format, v...)
}
