// Package logging configures the structured logger shared by every core
// component. All lifecycle, reload, and breaker-transition events go
// through here instead of the standard log package.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process-wide logger. level accepts any logrus.ParseLevel
// string ("debug", "info", "warn", "error"); an unparseable level falls
// back to info.
func New(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Recover is deferred at the per-connection goroutine boundary. A panic in
// one request's goroutine is contained there and logged as a structured
// event; it never reaches the accept loop or any other in-flight request.
func Recover(log *logrus.Logger, component string) {
	if r := recover(); r != nil {
		log.WithFields(logrus.Fields{
			"component": component,
			"panic":     r,
		}).Error("recovered panic in request task")
	}
}
