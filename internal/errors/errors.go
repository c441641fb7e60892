// Package errors defines the error taxonomy shared by the compiler, the
// execution sandbox, the streaming renderer and the HTTP surface.
//
// Compilation errors carry the offending source and map to client errors.
// Render errors are recoverable in place: the sandbox converts them to
// error-marked nodes instead of aborting a document. Hydration failures are
// not errors at all; the hydrator logs them and reports false.
package errors

import (
	"fmt"
	"sync"
	"time"
)

// Diagnostic is a non-fatal note produced while compiling in development mode.
type Diagnostic struct {
	Line      int
	Column    int
	Message   string
	Severity  ErrorSeverity
	Timestamp time.Time
}

// ErrorSeverity represents the severity of a diagnostic
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// String formats the diagnostic as line:col: severity: message.
func (d Diagnostic) String() string {
	return fmt.Sprintf("%d:%d: %s: %s", d.Line, d.Column, d.Severity, d.Message)
}

// DiagnosticCollector collects diagnostics from a single compilation.
type DiagnosticCollector struct {
	diagnostics []Diagnostic
	mutex       sync.RWMutex
}

// NewDiagnosticCollector creates a new collector
func NewDiagnosticCollector() *DiagnosticCollector {
	return &DiagnosticCollector{
		diagnostics: make([]Diagnostic, 0),
	}
}

// Add records a diagnostic
func (dc *DiagnosticCollector) Add(d Diagnostic) {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	dc.diagnostics = append(dc.diagnostics, d)
}

// Warnf records a warning at the given position
func (dc *DiagnosticCollector) Warnf(line, column int, format string, args ...interface{}) {
	dc.Add(Diagnostic{
		Line:     line,
		Column:   column,
		Message:  fmt.Sprintf(format, args...),
		Severity: ErrorSeverityWarning,
	})
}

// Diagnostics returns a copy of the collected diagnostics
func (dc *DiagnosticCollector) Diagnostics() []Diagnostic {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()
	result := make([]Diagnostic, len(dc.diagnostics))
	copy(result, dc.diagnostics)
	return result
}

// HasErrors reports whether any error-severity diagnostic was recorded
func (dc *DiagnosticCollector) HasErrors() bool {
	dc.mutex.RLock()
	defer dc.mutex.RUnlock()
	for _, d := range dc.diagnostics {
		if d.Severity == ErrorSeverityError {
			return true
		}
	}
	return false
}

// Clear clears all diagnostics
func (dc *DiagnosticCollector) Clear() {
	dc.mutex.Lock()
	defer dc.mutex.Unlock()
	dc.diagnostics = dc.diagnostics[:0]
}
