package quizgen

import (
	"errors"
	"fmt"
	"regexp"
)

// Kind classifies pipeline failures. The split matters to callers: some kinds
// are user-correctable (NoQuestions, DuplicateName), some indicate a bad
// credential, and the rest are operational.
type Kind string

const (
	KindFetch              Kind = "fetch"
	KindMissingCredentials Kind = "missing_credentials"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindProvider           Kind = "provider"
	KindGeneration         Kind = "generation"
	KindNoQuestions        Kind = "no_questions"
	KindDuplicateName      Kind = "duplicate_name"
	KindPersistence        Kind = "persistence"
)

// Error carries a paired message: Internal is the verbose diagnostic recorded
// on the request row, External is safe to show to the requester. Internal
// text is scrubbed of anything that looks like an API key before it leaves
// this package.
type Error struct {
	Kind     Kind
	Internal string
	External string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Internal, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Internal)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a pipeline error; the internal message is scrubbed of API
// keys on construction.
func NewError(kind Kind, err error, internal, external string) *Error {
	return &Error{
		Kind:     kind,
		Internal: RedactAPIKey(internal),
		External: external,
		Err:      err,
	}
}

// AsError extracts a pipeline error from an error chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsKind reports whether err is a pipeline error of the given kind.
func IsKind(err error, kind Kind) bool {
	pe, ok := AsError(err)
	return ok && pe.Kind == kind
}

// apiKeyPattern matches OpenAI-style secret keys (sk-... and sk-proj-...).
var apiKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9_-]{8,}`)

// RedactAPIKey scrubs provider API keys from text destined for storage or
// logs. Provider errors echo the offending key back verbatim, so every
// internal message passes through here.
func RedactAPIKey(s string) string {
	return apiKeyPattern.ReplaceAllString(s, "sk-***REDACTED***")
}
