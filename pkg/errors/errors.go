// Package errors provides structured error handling for harvest.
// It defines the transaction, staking and swap error taxonomy, exit codes,
// and helpers for adding context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Rejected by the signer
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Insufficient balance or allowance
)

// HarvestError is the structured error type for harvest.
type HarvestError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *HarvestError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *HarvestError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for HarvestError by comparing codes.
func (e *HarvestError) Is(target error) bool {
	var t *HarvestError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &HarvestError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &HarvestError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrNotFound = &HarvestError{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	ErrInvalidAddress = &HarvestError{
		Code:     "INVALID_ADDRESS",
		Message:  "invalid address format",
		ExitCode: ExitInput,
	}

	ErrInvalidChecksum = &HarvestError{
		Code:     "INVALID_CHECKSUM",
		Message:  "invalid address checksum",
		ExitCode: ExitInput,
	}

	ErrInvalidAmount = &HarvestError{
		Code:     "INVALID_AMOUNT",
		Message:  "invalid amount format",
		ExitCode: ExitInput,
	}

	ErrNetworkError = &HarvestError{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	// Config-specific errors.
	ErrConfigNotFound = &HarvestError{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &HarvestError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrUnknownConfigKey = &HarvestError{
		Code:     "UNKNOWN_CONFIG_KEY",
		Message:  "unknown config key",
		ExitCode: ExitInput,
	}

	// Chain state errors.
	ErrChainNotReady = &HarvestError{
		Code:     CodeInternalError,
		Message:  "chain api is not ready",
		ExitCode: ExitGeneral,
	}

	ErrMalformedState = &HarvestError{
		Code:     CodeInternalError,
		Message:  "unexpected on-chain value shape",
		ExitCode: ExitGeneral,
	}
)

// New creates a new HarvestError with the given code and message.
func New(code, message string) *HarvestError {
	return &HarvestError{
		Code:     code,
		Message:  message,
		ExitCode: exitCodeFor(code),
	}
}

// Newf creates a new HarvestError with a formatted message.
func Newf(code, format string, args ...any) *HarvestError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var he *HarvestError
	if errors.As(err, &he) {
		return &HarvestError{
			Code:       he.Code,
			Message:    fmt.Sprintf("%s: %s", msg, he.Message),
			Details:    he.Details,
			Suggestion: he.Suggestion,
			Cause:      err,
			ExitCode:   he.ExitCode,
		}
	}

	return &HarvestError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var he *HarvestError
	if errors.As(err, &he) {
		return &HarvestError{
			Code:       he.Code,
			Message:    he.Message,
			Details:    details,
			Suggestion: he.Suggestion,
			Cause:      he.Cause,
			ExitCode:   he.ExitCode,
		}
	}

	return &HarvestError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var he *HarvestError
	if errors.As(err, &he) {
		return &HarvestError{
			Code:       he.Code,
			Message:    he.Message,
			Details:    he.Details,
			Suggestion: suggestion,
			Cause:      he.Cause,
			ExitCode:   he.ExitCode,
		}
	}

	return &HarvestError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var he *HarvestError
	if errors.As(err, &he) {
		return he.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var he *HarvestError
	if errors.As(err, &he) {
		return he.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
