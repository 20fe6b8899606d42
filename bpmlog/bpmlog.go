// Package bpmlog sets up the single logrus entry the rest of this module
// logs through: text-formatted, writing to a caller-supplied writer, at
// debug level when verbose logging is requested and info level otherwise.
package bpmlog

import (
	"io"

	"github.com/sirupsen/logrus"
)

// New returns a logrus entry writing to out, at debug level when verbose
// is set and info level otherwise.
func New(out io.Writer, verbose bool) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return logrus.NewEntry(l)
}
