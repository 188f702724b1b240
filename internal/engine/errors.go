package engine

import (
	"fmt"
	"sync"
	"time"
)

// Error codes used across the engine. Codes are stable strings so
// collaborators can switch on them without importing sentinel values.
const (
	CodeDuplicateEntity      = "DUPLICATE_ENTITY"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodeEventHandlerError    = "EVENT_HANDLER_ERROR"
	CodeActionExecutionError = "ACTION_EXECUTION_ERROR"
	CodeUnknownAction        = "UNKNOWN_ACTION"
	CodeEngineStopped        = "ENGINE_STOPPED"
)

// DefaultRecentErrors bounds the recent-error ring kept for statistics
const DefaultRecentErrors = 100

// StructuredError is the engine's error record: a stable code, a human
// message, free-form context, and a recoverability flag derived from the
// domain's policy table.
type StructuredError struct {
	Code        string         `json:"code"`
	Message     string         `json:"message"`
	Context     map[string]any `json:"context,omitempty"`
	Recoverable bool           `json:"recoverable"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Error implements the error interface
func (e *StructuredError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorStatistics is a point-in-time view of recorded errors
type ErrorStatistics struct {
	TotalErrors  uint64             `json:"totalErrors"`
	ByCode       map[string]uint64  `json:"byCode"`
	RecentErrors []*StructuredError `json:"recentErrors"`
}

// ErrorDomain creates and tracks structured errors. It is the last line
// of defense called from recover sites throughout the engine, so New
// must succeed unconditionally - it allocates, records, and returns, and
// nothing in it can fail.
type ErrorDomain struct {
	mu     sync.Mutex
	total  uint64
	byCode map[string]uint64
	recent []*StructuredError
	max    int
	fatal  map[string]bool
}

// NewErrorDomain creates a domain keeping at most maxRecent errors.
// maxRecent <= 0 falls back to DefaultRecentErrors.
func NewErrorDomain(maxRecent int) *ErrorDomain {
	if maxRecent <= 0 {
		maxRecent = DefaultRecentErrors
	}
	return &ErrorDomain{
		byCode: make(map[string]uint64),
		recent: make([]*StructuredError, 0, maxRecent),
		max:    maxRecent,
		fatal: map[string]bool{
			CodeEngineStopped: true,
		},
	}
}

// MarkFatal registers code as non-recoverable in the policy table
func (d *ErrorDomain) MarkFatal(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fatal[code] = true
}

// New builds, records, and returns a structured error. Recoverability
// comes from the policy table: true unless the code is listed as fatal.
func (d *ErrorDomain) New(code, message string, context map[string]any) *StructuredError {
	d.mu.Lock()
	defer d.mu.Unlock()

	err := &StructuredError{
		Code:        code,
		Message:     message,
		Context:     context,
		Recoverable: !d.fatal[code],
		Timestamp:   time.Now(),
	}

	d.total++
	d.byCode[code]++

	// Bounded ring: drop the oldest once full
	if len(d.recent) >= d.max {
		copy(d.recent, d.recent[1:])
		d.recent[len(d.recent)-1] = err
	} else {
		d.recent = append(d.recent, err)
	}

	return err
}

// describePanic renders a recovered value for error context
func describePanic(r any) string {
	switch v := r.(type) {
	case error:
		return v.Error()
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Statistics returns a copy of the aggregate error state
func (d *ErrorDomain) Statistics() ErrorStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	byCode := make(map[string]uint64, len(d.byCode))
	for k, v := range d.byCode {
		byCode[k] = v
	}
	recent := make([]*StructuredError, len(d.recent))
	copy(recent, d.recent)

	return ErrorStatistics{
		TotalErrors:  d.total,
		ByCode:       byCode,
		RecentErrors: recent,
	}
}
