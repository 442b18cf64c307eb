package domain

import (
	"fmt"
	"runtime/debug"
	"time"
)

// maxStackTrace bounds stored stack traces so log rows stay small.
const maxStackTrace = 4096

// Result is the envelope every handler returns to the executor. It is a
// plain value; domain failures are encoded here, never raised as errors.
type Result struct {
	Success          bool
	ErrorMessage     string
	ErrorType        string
	StackTrace       string
	HTTPStatusCode   *int
	ResponseData     map[string]any
	Retryable        bool
	CustomRetryDelay *time.Duration
	Notes            string
}

// Succeed builds a success result carrying the remote response snapshot.
func Succeed(responseData map[string]any) Result {
	if responseData == nil {
		responseData = map[string]any{}
	}
	return Result{Success: true, ResponseData: responseData}
}

// Fail builds a retryable failure.
func Fail(errorMessage, errorType string) Result {
	return Result{Success: false, ErrorMessage: errorMessage, ErrorType: errorType, Retryable: true}
}

// FailFromError builds a retryable failure from an unexpected error,
// capturing a truncated stack trace for diagnosis.
func FailFromError(err error) Result {
	return Result{
		Success:      false,
		ErrorMessage: err.Error(),
		ErrorType:    fmt.Sprintf("%T", err),
		StackTrace:   TruncateStack(string(debug.Stack())),
		Retryable:    true,
	}
}

// PermanentFail builds a non-retryable failure; the executor dead-letters
// the task.
func PermanentFail(errorMessage, errorType string) Result {
	return Result{Success: false, ErrorMessage: errorMessage, ErrorType: errorType, Retryable: false}
}

// HTTPFail classifies a remote HTTP failure: 408, 429 and 5xx are
// retryable, everything else is permanent.
func HTTPFail(statusCode int, errorMessage string) Result {
	code := statusCode
	return Result{
		Success:        false,
		ErrorMessage:   errorMessage,
		ErrorType:      fmt.Sprintf("HTTP_%d", statusCode),
		HTTPStatusCode: &code,
		Retryable:      statusCode >= 500 || statusCode == 408 || statusCode == 429,
	}
}

// WithCustomRetryDelay overrides the handler's backoff for this attempt.
func (r Result) WithCustomRetryDelay(d time.Duration) Result {
	r.CustomRetryDelay = &d
	return r
}

// TruncateStack bounds a stack trace for storage.
func TruncateStack(s string) string {
	if len(s) <= maxStackTrace {
		return s
	}
	return s[:maxStackTrace-3] + "..."
}
