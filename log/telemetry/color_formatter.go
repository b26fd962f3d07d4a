package telemetry

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/sirupsen/logrus"
)

// colorFormatter is a logrus.Formatter used by cmd/flightdemo. It prefixes
// each line with a namespace-colored tag, in the spirit of the teacher's
// DefaultLogger which prefixes every line with "[LEVEL]:". The same
// namespace-colored tag is used for every level, followed by the plain
// level name.
type colorFormatter struct{}

var namespaceColors = map[string]*color.Color{
	"LINK": color.New(color.FgCyan),
	"PFD":  color.New(color.FgYellow),
	"BEB":  color.New(color.FgBlue),
	"ERB":  color.New(color.FgMagenta),
	"HCO":  color.New(color.FgGreen),
	"LEL":  color.New(color.FgHiGreen),
	"VOT":  color.New(color.FgHiWhite),
}

func (colorFormatter) Format(e *logrus.Entry) ([]byte, error) {
	ns, _ := e.Data["namespace"].(string)
	c, ok := namespaceColors[ns]
	if !ok {
		c = color.New(color.FgWhite)
	}
	tag := c.Sprintf("[%-4s]", ns)
	line := fmt.Sprintf("%s %s p=%v %s\n", tag, e.Level.String(), e.Data["process"], e.Message)
	return []byte(line), nil
}

// NewDemoRegistry builds a Registry whose loggers write colorized,
// terminal-safe output to stdout — colorable.NewColorable strips ANSI
// codes automatically when stdout isn't a real console (e.g. Windows,
// or output piped to a file).
func NewDemoRegistry() *Registry {
	r := NewRegistry()
	r.writer = colorable.NewColorable(os.Stdout)
	return r
}

// attachWriter installs the demo color formatter/writer on a freshly
// created *logrus.Logger, used by loggerFor when r.writer is set.
func attachWriter(l *logrus.Logger, w io.Writer) {
	l.SetFormatter(colorFormatter{})
	l.SetOutput(w)
}
