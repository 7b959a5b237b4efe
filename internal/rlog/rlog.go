// Package rlog is the helper's single diagnostics logger: one line per
// event, written to standard error only, never to standard output (which
// carries exactly one JSON envelope per invocation).
//
// Grounded on the teacher's CustomLogger (logger.go): a single
// package-level logger instance, a Printf/Errorf split between
// informational and error lines. The teacher's hand-rolled Console.app
// timestamp formatter is replaced by logrus's own TextFormatter, the
// structured logger the rest of the pack (gravitational-teleport) pulls in
// for exactly this purpose.
package rlog

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger. There is no per-invocation state to
// isolate: each run of the helper is a single short-lived process.
var Log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
	}
	l.Level = logrus.InfoLevel
	return l
}

// WithOp returns an entry pre-populated with the operation name, the
// common field every log line in a dispatcher run carries.
func WithOp(op string) *logrus.Entry {
	return Log.WithField("op", op)
}

// CloneDetected logs a clone-detection warning (spec §4.5.4 step 5). This
// is the one event that MUST surface as a distinct log marker even though
// the ceremony itself still fails: operators scanning stderr need to be
// able to grep for it.
func CloneDetected(credentialID, username string, oldCounter, newCounter uint32) {
	Log.WithFields(logrus.Fields{
		"event":        "CLONE_DETECTED",
		"credentialId": credentialID,
		"username":     username,
		"oldCounter":   oldCounter,
		"newCounter":   newCounter,
	}).Warn("signature counter did not advance")
}
