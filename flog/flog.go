// Package flog provides the structured logging used across the node.
//
// Calls always name the acting object first, the way rclone's fs.Debugf
// does ("%v: message", obj, args...) -- useful here because nearly every
// log line is about a peer, a stream, or a transaction.
package flog

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger is a component-scoped logger.
type Logger struct {
	entry *logrus.Entry
}

var base = logrus.New()

// New returns a logger scoped to component, e.g. "store", "bus", "link".
func New(component string) *Logger {
	return &Logger{entry: base.WithField("component", component)}
}

func (l *Logger) log(level logrus.Level, obj interface{}, format string, args ...interface{}) {
	if !base.IsLevelEnabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if obj != nil {
		msg = fmt.Sprintf("%v: %s", obj, msg)
	}
	l.entry.Log(level, msg)
}

// Debugf logs at debug level about obj (pass nil when there is no natural subject).
func (l *Logger) Debugf(obj interface{}, format string, args ...interface{}) {
	l.log(logrus.DebugLevel, obj, format, args...)
}

// Infof logs at info level about obj.
func (l *Logger) Infof(obj interface{}, format string, args ...interface{}) {
	l.log(logrus.InfoLevel, obj, format, args...)
}

// Errorf logs at error level about obj.
func (l *Logger) Errorf(obj interface{}, format string, args ...interface{}) {
	l.log(logrus.ErrorLevel, obj, format, args...)
}

// SetLevel adjusts the process-wide log level; useful in tests that want quiet output.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}
