package errorclass

import (
	"regexp"
	"strconv"
	"strings"
)

// Classifier classifies action execution errors as transient or permanent
type Classifier struct{}

// NewClassifier creates a new error classifier
func NewClassifier() *Classifier {
	return &Classifier{}
}

// transientPatterns are phrases that indicate a temporary infrastructure failure
var transientPatterns = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"econnreset",
	"econnrefused",
	"etimedout",
	"socket hang up",
	"broken pipe",
	"no such host",
	"dns",
	"temporarily unavailable",
	"service unavailable",
	"too many requests",
	"rate limit",
	"rate-limit",
	"throttl",
	"network",
	"unreachable",
	"eof",
}

// permanentPatterns are phrases that indicate the call will never succeed as-is
var permanentPatterns = []string{
	"validation",
	"invalid",
	"malformed",
	"unauthorized",
	"forbidden",
	"not found",
	"bad request",
	"authentication failed",
	"permission denied",
	"unsupported",
}

// HTTP status extraction patterns
var (
	// Matches patterns like "status code: 429", "status_code: 500", "status code 503"
	httpStatusRegex = regexp.MustCompile(`(?i)status[_\s]code[:\s]*(\d{3})`)

	// Matches patterns like "HTTP 429", "http/1.1 500"
	httpPrefixRegex = regexp.MustCompile(`(?i)http[/\d.]*\s*(\d{3})`)

	// Matches patterns like "(429)", "[500]"
	bracketStatusRegex = regexp.MustCompile(`[\[(](\d{3})[\])]`)

	// Matches a bare leading status like "Error: 503 Service Unavailable"
	bareStatusRegex = regexp.MustCompile(`(?i)(?:error[:\s]+)?\b([1-5]\d{2})\b`)
)

// extractHTTPStatus attempts to extract an HTTP status code from the error message
func extractHTTPStatus(errStr string) int {
	for _, re := range []*regexp.Regexp{httpStatusRegex, httpPrefixRegex, bracketStatusRegex, bareStatusRegex} {
		if matches := re.FindStringSubmatch(errStr); len(matches) >= 2 {
			if status, err := strconv.Atoi(matches[1]); err == nil && status >= 100 && status < 600 {
				return status
			}
		}
	}
	return 0
}

// classifyByHTTPStatus maps an HTTP status code to an error type
func classifyByHTTPStatus(status int) ErrorType {
	switch {
	// Rate limiting is transient - backing off is the whole point
	case status == 429:
		return ErrorTypeTransient

	case status >= 500:
		return ErrorTypeTransient

	// Remaining 4xx are caller mistakes; retrying repeats the mistake
	case status >= 400 && status < 500:
		return ErrorTypePermanent

	default:
		return ErrorTypeUnknown
	}
}

// containsAny checks if the error string contains any of the patterns (case-insensitive)
func containsAny(errStr string, patterns []string) bool {
	errLower := strings.ToLower(errStr)
	for _, pattern := range patterns {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}
	return false
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata.
// Classification order: HTTP status first (most precise), then permanent phrases,
// then transient phrases. Anything unrecognized defaults to transient.
func (c *Classifier) Classify(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	httpStatus := extractHTTPStatus(errStr)

	errType := ErrorTypeUnknown
	if httpStatus != 0 {
		errType = classifyByHTTPStatus(httpStatus)
	}

	if errType == ErrorTypeUnknown {
		switch {
		case containsAny(errStr, permanentPatterns):
			errType = ErrorTypePermanent
		case containsAny(errStr, transientPatterns):
			errType = ErrorTypeTransient
		}
	}

	classified := &ClassifiedError{
		Original:   err,
		Type:       errType,
		HTTPStatus: httpStatus,
	}
	classified.Retryable = classified.IsTransient()
	return classified
}

// IsTransient reports whether the error should be retried.
// Unknown error shapes default to transient.
func (c *Classifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return c.Classify(err).IsTransient()
}
