// Package logging provides the Logger interface shared by localqueue components
// along with std log and zap backed implementations.
package logging

import (
	"io"
	"os"
)

// Logger is the leveled logging interface every component accepts.
type Logger interface {
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Println(v ...interface{})
	Printf(format string, v ...interface{})
}

// LogWriter maps string values to io.Writer interfaces intended for logging output.
//
// An empty string or stdout selects standard out, stderr selects standard error and
// /dev/null discards output. Any other string opens (creating if needed) a file at
// that location for appending.
//
// When calling this function, type assert the result for an io.Closer and if the
// assertion is successful close the log file on shutdown.
func LogWriter(writerString string) (io.Writer, error) {
	switch writerString {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "/dev/null":
		return io.Discard, nil
	default:
		return os.OpenFile(writerString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	}
}
