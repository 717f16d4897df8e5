// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package bridgeerr defines the typed error kinds surfaced across the
// agent-bridge: CLI subprocess failures, pipeline stage failures, and
// validation failures at the message-handler boundary.
package bridgeerr

import (
	"errors"
	"fmt"
)

// HaltReason classifies why a session turn was halted, for the
// session:halted event sent to the server.
type HaltReason string

const (
	HaltTimeout     HaltReason = "timeout"
	HaltCLIError    HaltReason = "cli_error"
	HaltProcessExit HaltReason = "process_exit"
)

// ErrUnknownBackend is returned when a session names a backend that has no
// registered descriptor.
var ErrUnknownBackend = errors.New("bridgeerr: unknown backend")

// ErrSessionNotFound is returned by the session-context store when update
// is called for a session that was never created via GetOrCreate.
var ErrSessionNotFound = errors.New("bridgeerr: session not found")

// ErrSessionCleared is the sentinel error delivered to every abandoned
// waiter when a session's concurrency state is cleared (fail-fast or
// explicit session:stop).
var ErrSessionCleared = errors.New("bridgeerr: session cleared")

// CLITimeoutError is returned when a CLI subprocess phase exceeds its
// allotted time (spawn, stream read, or graceful stop).
type CLITimeoutError struct {
	Phase     string
	TimeoutMs int64
}

func (e *CLITimeoutError) Error() string {
	return fmt.Sprintf("cli timeout during %s after %dms", e.Phase, e.TimeoutMs)
}

func (e *CLITimeoutError) HaltReason() HaltReason { return HaltTimeout }

// CLIProcessExitError is returned when the CLI child exits with a non-zero
// status.
type CLIProcessExitError struct {
	ExitCode   int
	StderrTail string
}

func (e *CLIProcessExitError) Error() string {
	return fmt.Sprintf("cli process exited with code %d: %s", e.ExitCode, e.StderrTail)
}

func (e *CLIProcessExitError) HaltReason() HaltReason { return HaltProcessExit }

// CLIParseError is a non-fatal error logged when a stdout line cannot be
// parsed as a backend event. It never aborts the stream.
type CLIParseError struct {
	Line string
}

func (e *CLIParseError) Error() string {
	return fmt.Sprintf("cli parse error on line: %s", e.Line)
}

// CLIError is a generic CLI-session failure that doesn't fit the more
// specific kinds above.
type CLIError struct {
	Err error
}

func (e *CLIError) Error() string { return fmt.Sprintf("cli error: %v", e.Err) }
func (e *CLIError) Unwrap() error { return e.Err }
func (e *CLIError) HaltReason() HaltReason { return HaltCLIError }

// StageError wraps an error raised by a pipeline stage, carrying the stage
// name it failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("stage %s: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// HaltReasonFor maps an arbitrary pipeline error to the HaltReason the
// message handler should surface in session:halted. Errors with no
// HaltReason() method in their chain default to cli_error, per the error-handling
// taxonomy: stage errors collapse into CLI categories when streaming,
// otherwise they are an internal error mapped to cli_error.
func HaltReasonFor(err error) HaltReason {
	var hr interface{ HaltReason() HaltReason }
	if errors.As(err, &hr) {
		return hr.HaltReason()
	}
	return HaltCLIError
}
