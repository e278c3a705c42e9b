// Package monitoring holds the process-wide diagnostic logger used by the
// evaluation and sweep packages.
package monitoring

import (
	"log"
	"sync"
)

var mu sync.RWMutex

// logf is the current sink. It defaults to log.Printf.
var logf = log.Printf

// Logf writes a diagnostic line through the current sink.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// Warnf logs a recoverable problem, such as a scene skipped during
// evaluation.
func Warnf(format string, v ...interface{}) {
	Logf("warning: "+format, v...)
}

// SetLogger replaces the sink and returns the previous one so tests can
// restore it. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) (previous func(string, ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	mu.Lock()
	previous, logf = logf, f
	mu.Unlock()
	return previous
}
