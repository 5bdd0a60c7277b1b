package domain

import "errors"

var (
	// ErrNoActiveEvent is returned when an action needs a running event.
	ErrNoActiveEvent = errors.New("no active event")
	// ErrNotEnrolled is returned when a player acts on an event they never joined.
	ErrNotEnrolled = errors.New("player not enrolled in event")
	// ErrNoQuestion indicates the vocabulary store cannot assemble a question.
	ErrNoQuestion = errors.New("no question available")
	// ErrEventNotFound indicates the ledger has no record of the event.
	ErrEventNotFound = errors.New("event not found")
)
