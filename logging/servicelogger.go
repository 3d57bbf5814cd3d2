package logging

import (
	"fmt"
	"io"
	"log"
)

// ServiceLogger represents a std log logger with logging level prefixes for a specific service.
type ServiceLogger struct {
	logLevel    int
	serviceName string
	*log.Logger
}

var levelMap = map[string]int{
	"OFF":     0,
	"SERVICE": 1,
	"ERROR":   2,
	"WARN":    3,
	"INFO":    4,
	"DEBUG":   5,
}

// NewServiceLogger returns a logger with designated logging levels for a particular service.
func NewServiceLogger(out io.Writer, serviceName string, level string) *ServiceLogger {
	logger := &ServiceLogger{
		serviceName: serviceName,
		Logger:      log.New(out, "", log.LstdFlags|log.Lshortfile|log.Lmicroseconds),
	}
	logger.SetLevel(level)
	return logger
}

// SetLevel updates the log level of the ServiceLogger. Supported levels in order:
//   - "OFF"
//   - "SERVICE"
//   - "ERROR"
//   - "WARN"
//   - "INFO"
//   - "DEBUG"
//
// Unknown levels fall back to ERROR.
func (sl *ServiceLogger) SetLevel(level string) {
	levelInt, exists := levelMap[level]
	if !exists {
		sl.Logger.Printf("Unknown logging level %s. Using ERROR instead.", level)
		levelInt = levelMap["ERROR"]
	}
	sl.logLevel = levelInt
}

// Debug is equivalent to Print with "DEBUG: SERVICENAME: " prepended.
func (sl *ServiceLogger) Debug(v ...interface{}) { sl.doPrint("DEBUG", v...) }

// Debugf is equivalent to Printf with "DEBUG: SERVICENAME: " prepended.
func (sl *ServiceLogger) Debugf(format string, v ...interface{}) { sl.doPrintf("DEBUG", format, v...) }

// Info is equivalent to Print with "INFO: SERVICENAME: " prepended.
func (sl *ServiceLogger) Info(v ...interface{}) { sl.doPrint("INFO", v...) }

// Infof is equivalent to Printf with "INFO: SERVICENAME: " prepended.
func (sl *ServiceLogger) Infof(format string, v ...interface{}) { sl.doPrintf("INFO", format, v...) }

// Warn is equivalent to Print with "WARN: SERVICENAME: " prepended.
func (sl *ServiceLogger) Warn(v ...interface{}) { sl.doPrint("WARN", v...) }

// Warnf is equivalent to Printf with "WARN: SERVICENAME: " prepended.
func (sl *ServiceLogger) Warnf(format string, v ...interface{}) { sl.doPrintf("WARN", format, v...) }

// Error is equivalent to Print with "ERROR: SERVICENAME: " prepended.
func (sl *ServiceLogger) Error(v ...interface{}) { sl.doPrint("ERROR", v...) }

// Errorf is equivalent to Printf with "ERROR: SERVICENAME: " prepended.
func (sl *ServiceLogger) Errorf(format string, v ...interface{}) { sl.doPrintf("ERROR", format, v...) }

// Print with "SERVICENAME: " prepended. Only output when log level is SERVICE or higher.
func (sl *ServiceLogger) Print(v ...interface{}) { sl.doPrint("SERVICE", v...) }

// Println with "SERVICENAME: " prepended. Only output when log level is SERVICE or higher.
func (sl *ServiceLogger) Println(v ...interface{}) {
	if sl.logLevel >= levelMap["SERVICE"] {
		sl.Output(2, sl.prefixString("SERVICE")+fmt.Sprintln(v...))
	}
}

// Printf with "SERVICENAME: " prepended. Only output when log level is SERVICE or higher.
func (sl *ServiceLogger) Printf(format string, v ...interface{}) { sl.doPrintf("SERVICE", format, v...) }

// prefixString returns "LEVEL: SERVICENAME: " unless the level is at or below
// SERVICE in which case the prefix is just "SERVICENAME: "
func (sl *ServiceLogger) prefixString(level string) string {
	if levelMap[level] <= levelMap["SERVICE"] {
		return sl.serviceName + ": "
	}
	return level + ": " + sl.serviceName + ": "
}

func (sl *ServiceLogger) doPrint(level string, v ...interface{}) {
	if sl.logLevel >= levelMap[level] {
		sl.Output(3, sl.prefixString(level)+fmt.Sprint(v...))
	}
}

func (sl *ServiceLogger) doPrintf(level string, format string, v ...interface{}) {
	if sl.logLevel >= levelMap[level] {
		sl.Output(3, sl.prefixString(level)+fmt.Sprintf(format, v...))
	}
}
