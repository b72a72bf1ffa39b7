package orchestrator

import "strings"

// ErrorKind labels every failure path in the pipeline.
type ErrorKind string

const (
	ErrValidationFailed   ErrorKind = "VALIDATION_FAILED"
	ErrSQLExecutionFailed ErrorKind = "SQL_EXECUTION_FAILED"
	ErrNoDataFound        ErrorKind = "NO_DATA_FOUND"
	ErrNoRelevantInfo     ErrorKind = "NO_RELEVANT_INFO"
	ErrNoData             ErrorKind = "NO_DATA"
	ErrProcessing         ErrorKind = "PROCESSING_ERROR"
	ErrRateLimit          ErrorKind = "RATE_LIMIT"
	ErrQuotaExceeded      ErrorKind = "QUOTA_EXCEEDED"
	ErrAPIKey             ErrorKind = "API_KEY_ERROR"
	ErrDatabase           ErrorKind = "DATABASE_ERROR"
	ErrTimeout            ErrorKind = "TIMEOUT_ERROR"
	ErrUnexpected         ErrorKind = "UNEXPECTED_ERROR"
)

// errorRule maps message substrings to a taxonomy entry with its canned
// user-facing message.
type errorRule struct {
	substrings []string
	kind       ErrorKind
	message    string
}

// errorRules are evaluated top to bottom against the lowercased error text.
// This string matching is a deliberately coarse heuristic: it only decides
// which canned message is shown, never control flow.
var errorRules = []errorRule{
	{
		substrings: []string{"rate limit", "429"},
		kind:       ErrRateLimit,
		message:    "The AI service is currently at capacity. Please try again in a few minutes.",
	},
	{
		substrings: []string{"quota", "insufficient_quota"},
		kind:       ErrQuotaExceeded,
		message:    "The AI service quota has been exceeded. Please contact support or try again later.",
	},
	{
		substrings: []string{"api key", "401", "authentication"},
		kind:       ErrAPIKey,
		message:    "There's a configuration issue with the service. Please contact support.",
	},
	{
		substrings: []string{"connection", "database", "sqlite"},
		kind:       ErrDatabase,
		message:    "I'm having trouble connecting to the database. Please try again in a moment.",
	},
	{
		substrings: []string{"timeout", "timed out", "deadline exceeded"},
		kind:       ErrTimeout,
		message:    "The request timed out. Please try again.",
	},
}

const unexpectedMessage = "Something unexpected happened. Please try again or rephrase your question. If the problem persists, please contact support."

// classifySystemError maps an arbitrary escaped error to the closest taxonomy
// entry and its user-safe message.
func classifySystemError(err error) (ErrorKind, string) {
	text := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, sub := range rule.substrings {
			if strings.Contains(text, sub) {
				return rule.kind, rule.message
			}
		}
	}
	return ErrUnexpected, unexpectedMessage
}
