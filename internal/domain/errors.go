package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure classes produced at the adapter
// boundary. Retry and circuit logic switch on the kind, never on error text.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection resets and 5xx-class
	// provider responses. Safe to retry.
	KindTransient ErrorKind = iota
	// KindFatal covers malformed input and 4xx-class client errors.
	// Retrying cannot help.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ClassifiedError tags an underlying error with its kind. Adapters create
// these once; everything downstream unwraps instead of re-inspecting.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &ClassifiedError{Kind: KindTransient, Err: err}
}

// Fatal wraps err as a non-retryable failure.
func Fatal(err error) error {
	return &ClassifiedError{Kind: KindFatal, Err: err}
}

// KindOf reports the kind of err. Unclassified errors are treated as
// transient so that plain network failures from deep inside an adapter
// still get retried.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool { return KindOf(err) == KindFatal }

// ErrorContext carries diagnostic information alongside a failure.
// Created at the call site and never mutated afterwards.
type ErrorContext struct {
	Operation string            `json:"operation"`
	Source    string            `json:"source"`
	Symbol    string            `json:"symbol,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewErrorContext builds an ErrorContext stamped with the current time.
func NewErrorContext(operation, source, symbol string) ErrorContext {
	return ErrorContext{
		Operation: operation,
		Source:    source,
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
	}
}

// WithMeta returns a copy of the context with one metadata entry added.
func (c ErrorContext) WithMeta(key, value string) ErrorContext {
	meta := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		meta[k] = v
	}
	meta[key] = value
	c.Metadata = meta
	return c
}

// AllSourcesFailedError is raised only when every provider has been
// exhausted and no cached fallback exists.
type AllSourcesFailedError struct {
	Symbol  string
	LastErr error
}

func (e *AllSourcesFailedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("all sources failed for %s: %v", e.Symbol, e.LastErr)
	}
	return fmt.Sprintf("all sources failed for %s", e.Symbol)
}

func (e *AllSourcesFailedError) Unwrap() error { return e.LastErr }
