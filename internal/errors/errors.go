// Package errors provides coded error types with context and suggestions
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Translation errors
	ErrCodeNoMatch       ErrorCode = "NO_MATCH"
	ErrCodeInvalidOutput ErrorCode = "INVALID_OUTPUT"
	ErrCodeInvalidRule   ErrorCode = "INVALID_RULE"

	// Configuration errors
	ErrCodeInvalidConfig   ErrorCode = "INVALID_CONFIG"
	ErrCodeInvalidRulePack ErrorCode = "INVALID_RULE_PACK"

	// Backend errors
	ErrCodeBackendRequest     ErrorCode = "BACKEND_REQUEST_FAILED"
	ErrCodeBackendResponse    ErrorCode = "BACKEND_RESPONSE_INVALID"
	ErrCodeQueryValidation    ErrorCode = "QUERY_VALIDATION_FAILED"
	ErrCodeBackendUnreachable ErrorCode = "BACKEND_UNREACHABLE"

	// Storage errors
	ErrCodeCacheRead    ErrorCode = "CACHE_READ_FAILED"
	ErrCodeCacheWrite   ErrorCode = "CACHE_WRITE_FAILED"
	ErrCodeHistoryWrite ErrorCode = "HISTORY_WRITE_FAILED"

	// Input errors
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// CodedError represents an error with a stable code and helpful context
type CodedError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Suggestion string                 `json:"suggestion,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Cause      error                  `json:"-"`
}

// Error implements the error interface
func (e *CodedError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf(": %s", e.Details))
	}
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (cause: %v)", e.Cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error chain unwrapping
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-facing message with the suggestion appended
func (e *CodedError) UserMessage() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Details != "" {
		sb.WriteString(fmt.Sprintf("\n\nDetails: %s", e.Details))
	}
	if e.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion))
	}
	return sb.String()
}

// New creates a new CodedError
func New(code ErrorCode, message string) *CodedError {
	return &CodedError{
		Code:     code,
		Message:  message,
		Metadata: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a code and message
func Wrap(err error, code ErrorCode, message string) *CodedError {
	return &CodedError{
		Code:     code,
		Message:  message,
		Cause:    err,
		Metadata: make(map[string]interface{}),
	}
}

// WithDetails adds detailed information about the error
func (e *CodedError) WithDetails(details string) *CodedError {
	e.Details = details
	return e
}

// WithSuggestion adds a suggestion on how to fix the error
func (e *CodedError) WithSuggestion(suggestion string) *CodedError {
	e.Suggestion = suggestion
	return e
}

// WithMetadata adds additional metadata to the error
func (e *CodedError) WithMetadata(key string, value interface{}) *CodedError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// HasCode reports whether err (or anything it wraps) carries the given code
func HasCode(err error, code ErrorCode) bool {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// Common error constructors

// NewNoMatchError creates an error for phrases no rule understands
func NewNoMatchError(phrase string) *CodedError {
	return New(ErrCodeNoMatch, "Could not understand the request").
		WithDetails(fmt.Sprintf("No translation rule matched the phrase: %q", phrase)).
		WithSuggestion("Include an intent word such as 'p95 latency', 'error rate', 'rate', 'average', 'count' or 'sum', a metric or service name, and optionally a range like 'last 30m'.").
		WithMetadata("phrase", phrase)
}

// NewInvalidOutputError creates an error for a rule template that rendered
// syntactically invalid PromQL. This is a rule-authoring defect, not a user
// input problem.
func NewInvalidOutputError(ruleID, query, reason string) *CodedError {
	return New(ErrCodeInvalidOutput, "Rule produced invalid PromQL").
		WithDetails(fmt.Sprintf("Rule %q rendered %q: %s", ruleID, query, reason)).
		WithSuggestion("This is a defect in the rule definition. Report it along with the phrase that triggered it.").
		WithMetadata("rule_id", ruleID)
}

// NewInvalidRuleError creates an error for a rule rejected at table construction
func NewInvalidRuleError(ruleID, reason string) *CodedError {
	return New(ErrCodeInvalidRule, "Invalid rule definition").
		WithDetails(fmt.Sprintf("Rule %q: %s", ruleID, reason)).
		WithSuggestion("Fix the rule template so it only uses the supported placeholders.").
		WithMetadata("rule_id", ruleID)
}

// NewInvalidConfigError creates an error for configuration problems
func NewInvalidConfigError(err error, detail string) *CodedError {
	return Wrap(err, ErrCodeInvalidConfig, "Invalid configuration").
		WithDetails(detail)
}

// NewRulePackError creates an error for an unloadable YAML rule pack
func NewRulePackError(err error, path string) *CodedError {
	return Wrap(err, ErrCodeInvalidRulePack, "Could not load rule pack").
		WithDetails(fmt.Sprintf("Rule pack file: %s", path)).
		WithSuggestion("Check the YAML syntax and that every rule has an id, a template and a rationale.")
}

// NewBackendRequestError creates an error for failed backend HTTP requests
func NewBackendRequestError(err error, path string) *CodedError {
	return Wrap(err, ErrCodeBackendRequest, "Prometheus request failed").
		WithDetails(fmt.Sprintf("GET %s", path)).
		WithSuggestion("Check that the server URL is correct and reachable, or use --dry-run to print the query without executing it.").
		WithMetadata("retryable", true)
}

// NewQueryValidationError creates an error for PromQL the backend rejected
func NewQueryValidationError(errorType, message string) *CodedError {
	return New(ErrCodeQueryValidation, "PromQL validation failed").
		WithDetails(fmt.Sprintf("%s: %s", errorType, message)).
		WithMetadata("error_type", errorType)
}
