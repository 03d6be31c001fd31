package core

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateEvent signals that an append matched an already stored
	// identity key. Recoverable: nothing was written.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrMalformedEvent signals an event that fails structural validation.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnknownConversation signals a lookup for a conversation that has
	// never been observed.
	ErrUnknownConversation = errors.New("unknown conversation")

	// ErrUnknownSuggestion signals a queue request for a suggestion id that
	// does not correspond to an accepted generation attempt.
	ErrUnknownSuggestion = errors.New("unknown suggestion")

	// ErrInvalidJSON signals a malformed partial-JSON payload on analysis
	// updates.
	ErrInvalidJSON = errors.New("invalid json")

	// ErrBudgetExceeded signals that even the minimum history tail does not
	// fit the prompt token budget.
	ErrBudgetExceeded = errors.New("prompt budget exceeded")

	// ErrInvalidOutcome signals a delivery-feedback report with an outcome
	// outside the accepted set.
	ErrInvalidOutcome = errors.New("invalid outcome")
)

// Tag classifies a failure so callers can discriminate without parsing
// message text.
type Tag string

const (
	TagUsage    Tag = "usage"
	TagState    Tag = "state"
	TagInternal Tag = "internal"
)

// TagOf maps an error to its caller-facing tag. Unrecognized errors are
// internal failures.
func TagOf(err error) Tag {
	switch {
	case errors.Is(err, ErrMalformedEvent),
		errors.Is(err, ErrInvalidJSON),
		errors.Is(err, ErrBudgetExceeded),
		errors.Is(err, ErrInvalidOutcome):
		return TagUsage
	case errors.Is(err, ErrDuplicateEvent),
		errors.Is(err, ErrUnknownConversation),
		errors.Is(err, ErrUnknownSuggestion):
		return TagState
	default:
		return TagInternal
	}
}

func wrapMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
