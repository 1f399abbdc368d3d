package errorclass

// ErrorType classifies action execution errors for retry decisions
type ErrorType string

const (
	// ErrorTypeTransient indicates a temporary failure (network, timeout, 5xx, rate limit)
	// These SHOULD be retried - the call may succeed on a later attempt
	ErrorTypeTransient ErrorType = "transient"

	// ErrorTypePermanent indicates a failure that will not resolve on its own
	// (validation, auth, 4xx other than 429). Retrying would waste the budget.
	ErrorTypePermanent ErrorType = "permanent"

	// ErrorTypeUnknown indicates an unclassified error
	// Treated as transient for safety - better to retry than to silently drop a side effect
	ErrorTypeUnknown ErrorType = "unknown"
)

// ClassifiedError wraps an error with classification metadata for retry decisions
type ClassifiedError struct {
	// Original is the underlying error
	Original error

	// Type classifies the error as transient, permanent, or unknown
	Type ErrorType

	// HTTPStatus is the extracted HTTP status code (0 if not applicable)
	HTTPStatus int

	// Retryable indicates whether this error can be retried
	Retryable bool
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Original == nil {
		return ""
	}
	return e.Original.Error()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *ClassifiedError) Unwrap() error {
	return e.Original
}

// IsTransient returns true if this error should be retried.
// Unknown errors are treated as transient for safety.
func (e *ClassifiedError) IsTransient() bool {
	return e.Type == ErrorTypeTransient || e.Type == ErrorTypeUnknown
}

// IsPermanent returns true if retrying this error is pointless
func (e *ClassifiedError) IsPermanent() bool {
	return e.Type == ErrorTypePermanent
}
