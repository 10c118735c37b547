// Package kinetlog wraps logrus with the contextual fields the core
// attaches consistently at every log site: session and operation
// identity. It mirrors the teacher's logs package (a thin wrapper
// around a shared *logrus.Logger) rather than introducing a second
// logging abstraction.
package kinetlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger configured the way the teacher's logs
// package configures its writer: text formatter with full timestamps,
// level parsed from a string, output defaulting to stderr.
func New(levelName string, out io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if out == nil {
		out = os.Stderr
	}
	l.SetOutput(out)

	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l
}

// Session returns an entry tagged with the given session ID, to be
// reused for every log line concerning that session's connection and
// operations.
func Session(l *logrus.Logger, sessionID uint64) *logrus.Entry {
	return l.WithField("session", sessionID)
}

// Operation returns an entry tagged with both session and operation
// identity, the pair the reactor and sender log sites key on.
func Operation(l *logrus.Logger, sessionID uint64, sequence int64) *logrus.Entry {
	return l.WithFields(logrus.Fields{"session": sessionID, "sequence": sequence})
}
