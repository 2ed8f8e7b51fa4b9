// Package errors provides structured error handling for gatehits.
//
// Every failure in the collector is fatal: errors carry the violated stage
// (configuration, append, flush, merge) and a captured stack so the host can
// report exactly which part of the contract broke. Nothing is retried.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfig represents configuration errors detected at simulation start
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeSchemaMismatch represents a hit whose attributes differ from the schema
	ErrorTypeSchemaMismatch ErrorType = "schema_mismatch"
	// ErrorTypeLifecycleOrder represents callbacks arriving out of contracted order
	ErrorTypeLifecycleOrder ErrorType = "lifecycle_order"
	// ErrorTypeMergeIncomplete represents a merge attempted before every buffer was finalized
	ErrorTypeMergeIncomplete ErrorType = "merge_incomplete"
	// ErrorTypeSink represents output sink I/O failures
	ErrorTypeSink ErrorType = "sink"
	// ErrorTypeFile represents file operation errors
	ErrorTypeFile ErrorType = "file"
	// ErrorTypeData represents malformed columnar data
	ErrorTypeData ErrorType = "data"
)

// Stage names the part of the collector where an error surfaced.
type Stage string

const (
	StageConfiguration Stage = "configuration"
	StageLifecycle     Stage = "lifecycle"
	StageAppend        Stage = "append"
	StageFlush         Stage = "flush"
	StageMerge         Stage = "merge"
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStage records the collector stage the error belongs to.
func (e *Error) WithStage(stage Stage) *Error {
	return e.WithDetail("stage", string(stage))
}

// Stage returns the recorded stage, or "" when none was set.
func (e *Error) Stage() Stage {
	if s, ok := e.Details["stage"].(string); ok {
		return Stage(s)
	}
	return ""
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error, or any error it wraps, is of the given type
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// TypeOf returns the type of the outermost structured error, or "" for plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// Is and As re-export the standard library helpers so callers need one import.
var (
	Is = errors.Is
	As = errors.As
)

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
