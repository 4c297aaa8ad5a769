// Package monitoring holds the package-level diagnostic loggers used by the
// processing stages.
package monitoring

import "log"

// Logf is the progress logger for stage events (partition created, point
// counts, prediction previews). It defaults to log.Printf and may be
// replaced by SetLogger; tests usually mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Noticef reports recoverable conditions that change the output, such as a
// missing colour channel replaced by random colour. It stays on when Logf
// is muted unless SetNoticeLogger silences it too.
var Noticef func(format string, v ...interface{}) = log.Printf

func noop(string, ...interface{}) {}

// SetLogger replaces the progress logger. Passing nil sets a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = noop
		return
	}
	Logf = f
}

// SetNoticeLogger replaces the notice logger. Passing nil sets a no-op logger.
func SetNoticeLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Noticef = noop
		return
	}
	Noticef = f
}
