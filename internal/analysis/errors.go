package analysis

import "fmt"

// TimeoutError means the gateway call exceeded its per-request deadline.
// Timeouts are not retried: a model that took two minutes once will
// usually take two minutes again, and the continuation loop is better
// served by surfacing the failure.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("analysis %s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// TransientError is a retryable gateway failure (rate limit, 5xx,
// connection reset). The gateway retries these a bounded number of times
// before giving up.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("analysis %s failed with status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("analysis %s failed transiently: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// MalformedResponseError means the model returned output that could not
// be parsed or validated as the expected structure, even after fence
// stripping and candidate extraction.
type MalformedResponseError struct {
	Op     string
	Reason string
	Raw    string // truncated raw output, for logs
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("analysis %s returned malformed output: %s", e.Op, e.Reason)
}
