// Package logger provides component-tagged structured logging on top of zap.
package logger

import (
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[string]LogLevel{
	"debug":   DEBUG,
	"info":    INFO,
	"warn":    WARN,
	"warning": WARN,
	"error":   ERROR,
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

var (
	mu      sync.RWMutex
	level   = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	out     io.Writer = os.Stderr
	useJSON bool
	base    = newZapLogger()
)

func newEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "time"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if useJSON {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func newZapLogger() *zap.Logger {
	core := zapcore.NewCore(newEncoder(), zapcore.Lock(zapcore.AddSync(out)), level)
	return zap.New(core)
}

// ParseLevel maps a level name to a LogLevel. Unknown names return INFO and false.
func ParseLevel(name string) (LogLevel, bool) {
	l, ok := levelNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return INFO, false
	}
	return l, true
}

func SetLevel(l LogLevel) {
	level.SetLevel(l.zapLevel())
}

// SetOutput redirects all log output to w. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	base = newZapLogger()
}

// SetJSON switches between the console and JSON encoders.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	useJSON = enabled
	base = newZapLogger()
}

// Sync flushes buffered log entries.
func Sync() error {
	return current().Sync()
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func logf(l LogLevel, component, message string, fields map[string]interface{}) {
	ce := current().Check(l.zapLevel(), message)
	if ce == nil {
		return
	}

	zf := make([]zap.Field, 0, len(fields)+1)
	if component != "" {
		zf = append(zf, zap.String("component", component))
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}

	ce.Write(zf...)
}

func Debug(message string) { logf(DEBUG, "", message, nil) }
func DebugC(component string, message string) { logf(DEBUG, component, message, nil) }
func DebugCF(component string, message string, fields map[string]interface{}) {
	logf(DEBUG, component, message, fields)
}

func Info(message string) { logf(INFO, "", message, nil) }
func InfoC(component string, message string) { logf(INFO, component, message, nil) }
func InfoCF(component string, message string, fields map[string]interface{}) {
	logf(INFO, component, message, fields)
}

func Warn(message string) { logf(WARN, "", message, nil) }
func WarnC(component string, message string) { logf(WARN, component, message, nil) }
func WarnCF(component string, message string, fields map[string]interface{}) {
	logf(WARN, component, message, fields)
}

func Error(message string) { logf(ERROR, "", message, nil) }
func ErrorC(component string, message string) { logf(ERROR, component, message, nil) }
func ErrorCF(component string, message string, fields map[string]interface{}) {
	logf(ERROR, component, message, fields)
}
