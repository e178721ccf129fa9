// Package monitoring holds the process-wide diagnostic log hook. Every
// spokeview package logs through it so tests can silence or capture output.
package monitoring

import (
	"log"
	"sync"
)

var (
	mu   sync.RWMutex
	logf = log.Printf
)

// Logf writes a diagnostic line through the current hook.
func Logf(format string, v ...interface{}) {
	mu.RLock()
	f := logf
	mu.RUnlock()
	f(format, v...)
}

// SetLogger replaces the hook. Passing nil installs a no-op logger.
// It returns the previous hook so callers can restore it.
func SetLogger(f func(format string, v ...interface{})) func(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	prev := logf
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	logf = f
	return prev
}

// Component returns a logf that prefixes every line with "[name] ".
// The hook is looked up on each call, so SetLogger affects existing
// component loggers too.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}
