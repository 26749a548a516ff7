package session

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned when a user has no live session
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession is returned when stored session data cannot be decoded
	ErrInvalidSession = errors.New("invalid session")
)

// State is the conversational state kept for one WhatsApp user between turns.
type State struct {
	CurrentAgent string `json:"current_agent"`
	// ThreadID references the conversation thread in the memory provider.
	ThreadID string `json:"thread_id"`
	// ContinuationToken points at the stored model input of the last turn.
	ContinuationToken string    `json:"continuation_token,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}
