package monitoring

import "log"

// Logf is the package-level diagnostic logger shared by the campaign core. It
// defaults to log.Printf but may be replaced with SetLogger so the CLI can
// route output through its own writer and tests can mute it entirely.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Silence mutes the logger and returns a function that restores the previous
// logger. Intended for tests: defer monitoring.Silence()().
func Silence() func() {
	prev := Logf
	Logf = func(string, ...interface{}) {}
	return func() { Logf = prev }
}
