// Package log hands out named module loggers backed by a single leveled
// go-logging backend, so the CLI can raise the verbosity of the whole
// process at once.
package log

import (
	"io"
	"os"

	"github.com/op/go-logging"
)

// Level of a log record; messages below the backend level are dropped.
type Level = logging.Level

const (
	Error   = logging.ERROR
	Warning = logging.WARNING
	Notice  = logging.NOTICE
	Info    = logging.INFO
	Debug   = logging.DEBUG
)

var format = logging.MustStringFormatter(
	`%{color}%{time:15:04:05.000} %{level:.4s} %{module}%{color:reset} | %{message}`,
)

var backend logging.LeveledBackend

// Logger is the leveled logging surface handed to the packages of this
// module.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Noticef(format string, v ...interface{})
	Warningf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// New returns the named logger for a package.
func New(name string) Logger {
	return logging.MustGetLogger(name)
}

// SetSink redirects all loggers to the given writer and restores the
// default Notice verbosity.
func SetSink(sink io.Writer) {
	raw := logging.NewBackendFormatter(logging.NewLogBackend(sink, "", 0), format)
	backend = logging.AddModuleLevel(raw)
	backend.SetLevel(Notice, "")
	logging.SetBackend(backend)
}

// SetLevel adjusts the verbosity of every module at once.
func SetLevel(level Level) {
	backend.SetLevel(level, "")
}

func init() {
	SetSink(os.Stdout)
}
