// Package log is the single logging sink used by every brick, the
// composition runtime, the loader and the mount bridge. Bricks never
// construct their own logger; they call the package-level functions here,
// mirroring the teacher's fs.Debugf/fs.Errorf convention.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = logrus.New()

func init() {
	std.SetOutput(os.Stderr)
	std.SetLevel(logrus.InfoLevel)
}

// Level selects which of the trace/debug/info/warning/error/critical
// messages reach the sink.
type Level = logrus.Level

// The six levels named in spec §7. logrus has no distinct "critical" level,
// so Criticalf logs at ErrorLevel with an extra field.
const (
	LevelTrace    = logrus.TraceLevel
	LevelDebug    = logrus.DebugLevel
	LevelInfo     = logrus.InfoLevel
	LevelWarning  = logrus.WarnLevel
	LevelError    = logrus.ErrorLevel
	LevelCritical = logrus.ErrorLevel
)

// SetLevel adjusts the sink's verbosity. cmd/kennyfs does not call this:
// spec.md §6 fixes the CLI's flag surface to -h/-v/-o with -v already
// meaning --version, so there is no verbosity flag to wire it to. It
// exists for callers embedding the engine with their own flag surface.
func SetLevel(l Level) {
	std.SetLevel(l)
}

func entry(o any) *logrus.Entry {
	if o == nil {
		return logrus.NewEntry(std)
	}
	return std.WithField("brick", o)
}

func Tracef(o any, format string, args ...any)    { entry(o).Tracef(format, args...) }
func Debugf(o any, format string, args ...any)    { entry(o).Debugf(format, args...) }
func Infof(o any, format string, args ...any)     { entry(o).Infof(format, args...) }
func Warningf(o any, format string, args ...any)  { entry(o).Warnf(format, args...) }
func Errorf(o any, format string, args ...any)    { entry(o).Errorf(format, args...) }
func Criticalf(o any, format string, args ...any) {
	entry(o).WithField("severity", "critical").Errorf(format, args...)
}
