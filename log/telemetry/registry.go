package telemetry

import (
	"io"
	"sync"

	"github.com/prometheus/common/log"
	"github.com/sirupsen/logrus"
)

// key identifies one (process, namespace) logger, mirroring the Python
// Logging class' module-wide `(process_number, namespace) -> debug_bool` map.
type key struct {
	process   int
	namespace string
}

// Registry keeps one *logrus.Logger per (process, namespace) pair so that
// toggling debug on one pair never affects another, and vends Logger
// values backed by it. It is safe for concurrent use; per §5 mutations are
// expected only at process start, but reads happen from any abstraction's
// worker.
type Registry struct {
	mu      sync.Mutex
	loggers map[key]*logrus.Logger
	// writer, if set, routes every newly created logger through the
	// colorized demo formatter instead of logrus' default text output.
	writer io.Writer
}

// NewRegistry creates an empty logger registry.
func NewRegistry() *Registry {
	return &Registry{loggers: make(map[key]*logrus.Logger)}
}

func (r *Registry) loggerFor(k key) *logrus.Logger {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loggers[k]
	if !ok {
		l = logrus.New()
		l.SetLevel(logrus.InfoLevel)
		if r.writer != nil {
			attachWriter(l, r.writer)
		}
		r.loggers[k] = l
	}
	return l
}

// Get returns the Logger for a (process, namespace) pair, creating it
// (at Info level) on first use.
func (r *Registry) Get(process int, namespace string) Logger {
	base := r.loggerFor(key{process, namespace})
	entry := base.WithFields(fields(log.Fields{
		"process":   process,
		"namespace": namespace,
	}))
	return &entryLogger{entry: entry}
}

// SetDebug mirrors Logging.set_debug: toggles the debug level for every
// Logger already vended, and any vended later, for this (process,
// namespace) pair.
func (r *Registry) SetDebug(process int, namespace string, enabled bool) {
	l := r.loggerFor(key{process, namespace})
	if enabled {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
}
