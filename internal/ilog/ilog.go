// Package ilog centralizes logger construction, in the style of
// lazydocker/pkg/log: a logrus.Entry built once and threaded through the
// pipeline, writers, and filter streams, with the formatter chosen by
// whether output looks like a terminal.
package ilog

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/kdsys/isoimage/internal/ierr"
)

// New returns a logrus.Entry configured for either interactive (text) or
// piped/CI (JSON) output, tagged with a component field.
func New(component string) *logrus.Entry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(os.Getenv("ISOIMAGE_LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	if isTerminal(os.Stderr) {
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	} else {
		log.Formatter = &logrus.JSONFormatter{}
	}
	return log.WithField("component", component)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// EventSink adapts an *logrus.Entry into an ierr.EventSink, the default
// sink installed by pipeline.New when the caller supplies none.
type EventSink struct {
	Log *logrus.Entry
}

func (s EventSink) Emit(ev ierr.Event) {
	entry := s.Log.WithFields(logrus.Fields{
		"code":     ev.Code.String(),
		"severity": ev.Severity.String(),
	})
	switch {
	case ev.Severity >= ierr.SevFailure:
		entry.Error(ev.Message)
	case ev.Severity >= ierr.SevWarning:
		entry.Warn(ev.Message)
	case ev.Severity >= ierr.SevNote:
		entry.Info(ev.Message)
	default:
		entry.Debug(ev.Message)
	}
}
