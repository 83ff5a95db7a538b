package nonce

import "strings"

// ErrorClass tells a submitter whether a chain rejection is worth another attempt.
type ErrorClass int

const (
	// Fatal errors are surfaced immediately.
	Fatal ErrorClass = iota
	// Retryable errors are transient nonce conflicts that a resync can resolve.
	Retryable
)

func (c ErrorClass) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// retryablePatterns are node error messages known to mean "try again with a fresh nonce".
//
// The match is purely lexical on the text returned by the node, so it breaks whenever a client
// rewords a message. Keep this list the only place that knows about those strings.
var retryablePatterns = []string{
	"nonce too low",
	"nonce too high",
	"replacement transaction underpriced",
	"already known",
	"invalid nonce",
}

// ClassifyMessage classifies a node error message.
func ClassifyMessage(message string) ErrorClass {
	lower := strings.ToLower(message)
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return Retryable
		}
	}
	return Fatal
}

// ClassifyError classifies err by its message. A nil error is Fatal.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return Fatal
	}
	return ClassifyMessage(err.Error())
}
