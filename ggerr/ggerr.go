// Package ggerr defines the closed set of error kinds returned by the SDK.
//
// Every non-OK Kind is itself an error, so callers test for a class of
// failure with errors.Is:
//
//	if errors.Is(err, ggerr.Timeout) { ... }
package ggerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind uint8

const (
	OK Kind = iota
	// Failure is a generic failure.
	Failure
	// Retry is a failure that can be retried.
	Retry
	// Busy means the request cannot be handled at this time.
	Busy
	// Fatal means the process is in an unrecoverable state.
	Fatal
	// Invalid means the request is malformed.
	Invalid
	// Unsupported means the request is not supported.
	Unsupported
	// Parse means received data is invalid.
	Parse
	// Range means a request or data is outside the allowable range.
	Range
	// NoMem means a fixed-capacity resource is exhausted.
	NoMem
	// NoConn means there is no connection.
	NoConn
	// NoData means no more data is available.
	NoData
	// NoEntry means an unknown entry or target was requested.
	NoEntry
	// Config means configuration is invalid or missing.
	Config
	// Remote means the peer returned an application error.
	Remote
	// Expected is an expected non-ok status.
	Expected
	// Timeout means the request timed out.
	Timeout
)

var kindNames = [...]string{
	OK:          "ok",
	Failure:     "failure",
	Retry:       "retryable failure",
	Busy:        "busy",
	Fatal:       "fatal error",
	Invalid:     "invalid request",
	Unsupported: "unsupported request",
	Parse:       "parse error",
	Range:       "out of range",
	NoMem:       "out of memory",
	NoConn:      "no connection",
	NoData:      "no data",
	NoEntry:     "not found",
	Config:      "bad configuration",
	Remote:      "remote error",
	Expected:    "unexpected status",
	Timeout:     "timed out",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Error() string {
	return k.String()
}

// Errorf returns an error carrying kind k with a formatted message.
// Arguments may include a %w verb to keep a cause in the chain.
func Errorf(k Kind, format string, args ...any) error {
	return &kindError{kind: k, err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind k to err. A nil err stays nil.
func Wrap(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, err: err}
}

// KindOf reports the Kind carried by err. Errors that carry no Kind are
// reported as Failure.
func KindOf(err error) Kind {
	if err == nil {
		return OK
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return Remote
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Failure
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string {
	return e.err.Error()
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// RemoteError is an application-level error returned by the supervisor.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %s", e.Code)
	}
	return fmt.Sprintf("remote error %s: %s", e.Code, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return Remote
}
