// Package monitoring owns the process-wide diagnostic logger. Packages log
// through Logf; the CLI swaps the backend for zap with UseZap.
package monitoring

import "log"

// Logf defaults to log.Printf until SetLogger or UseZap replaces it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil mutes logging, which tests use to keep output
// quiet.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
