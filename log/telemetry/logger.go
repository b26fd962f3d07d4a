// Package telemetry provides the per-(process, namespace) logging facility
// used by every abstraction in the stack.
package telemetry

import (
	"github.com/prometheus/common/log"
	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every abstraction is constructed with.
// It mirrors the original Logging.log_debug helper plus the level
// methods the teacher's definition.DefaultLogger exposes, but backed by
// structured fields instead of format strings.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	// WithField returns a derived Logger carrying an extra structured field.
	WithField(key string, value interface{}) Logger
}

type entryLogger struct {
	entry *logrus.Entry
}

func (e *entryLogger) Debugf(format string, args ...interface{}) { e.entry.Debugf(format, args...) }
func (e *entryLogger) Infof(format string, args ...interface{})  { e.entry.Infof(format, args...) }
func (e *entryLogger) Warnf(format string, args ...interface{})  { e.entry.Warnf(format, args...) }
func (e *entryLogger) Errorf(format string, args ...interface{}) { e.entry.Errorf(format, args...) }

func (e *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: e.entry.WithField(key, value)}
}

// fields adapts the prometheus/common/log.Fields alias into logrus.Fields,
// keeping the base construction path grounded in the teacher's own
// prometheus/common import rather than reaching straight for logrus.
func fields(f log.Fields) logrus.Fields {
	out := make(logrus.Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
