package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an EngineError by the spec's error taxonomy.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindAlreadyRunning      Kind = "already_running"
	KindTimeout             Kind = "timeout"
	KindInitFailed          Kind = "init_failed"
	KindToolIndexingAborted Kind = "tool_indexing_aborted"
	KindAllFailed           Kind = "all_failed"
	KindInvalidInput        Kind = "invalid_input"
	KindToolError           Kind = "tool_error"
	KindNotRunning          Kind = "not_running"
)

// Sentinel errors for errors.Is comparisons against a Kind regardless of the
// offending server/tool names.
var (
	ErrNotFound            = &EngineError{Kind: KindNotFound}
	ErrAlreadyRunning      = &EngineError{Kind: KindAlreadyRunning}
	ErrTimeout             = &EngineError{Kind: KindTimeout}
	ErrInitFailed          = &EngineError{Kind: KindInitFailed}
	ErrToolIndexingAborted = &EngineError{Kind: KindToolIndexingAborted}
	ErrAllFailed           = &EngineError{Kind: KindAllFailed}
	ErrInvalidInput        = &EngineError{Kind: KindInvalidInput}
	ErrToolError           = &EngineError{Kind: KindToolError}
	ErrNotRunning          = &EngineError{Kind: KindNotRunning}
)

// EngineError is the structured error type carried by every operation in
// this package. It wraps a cause and names the offending server/tool so
// callers can report precisely, while still supporting errors.Is/errors.As
// against a bare Kind sentinel.
type EngineError struct {
	Kind       Kind
	ServerName string
	ToolName   string
	Message    string
	Cause      error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	switch {
	case e.ServerName != "" && e.ToolName != "":
		return fmt.Sprintf("%s: %s/%s: %s", e.Kind, e.ServerName, e.ToolName, msg)
	case e.ServerName != "":
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.ServerName, msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *EngineError with the same Kind, ignoring
// ServerName/ToolName/Message/Cause, so errors.Is(err, ErrNotFound) works
// regardless of which server produced the error.
func (e *EngineError) Is(target error) bool {
	var other *EngineError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// newError builds an *EngineError of the given kind, naming the server and
// optionally the tool, wrapping cause.
func newError(kind Kind, serverName, toolName string, cause error) *EngineError {
	return &EngineError{Kind: kind, ServerName: serverName, ToolName: toolName, Cause: cause}
}

func notFoundErr(serverName string) error {
	return &EngineError{Kind: KindNotFound, ServerName: serverName, Message: "server not found in config"}
}

func notRunningErr(serverName string) error {
	return &EngineError{Kind: KindNotRunning, ServerName: serverName, Message: "server is not running"}
}

func timeoutErr(serverName, toolName string, cause error) error {
	return newError(KindTimeout, serverName, toolName, cause)
}

func initFailedErr(serverName string, cause error) error {
	return newError(KindInitFailed, serverName, "", cause)
}

func invalidInputErr(message string) error {
	return &EngineError{Kind: KindInvalidInput, Message: message}
}

func toolErr(serverName, toolName, message string) error {
	return &EngineError{Kind: KindToolError, ServerName: serverName, ToolName: toolName, Message: message}
}
