// internal/models/session.go
package models

import "time"

// SessionStatus tracks the lifecycle of a caller session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionClosed  SessionStatus = "closed"
	SessionExpired SessionStatus = "expired"
)

// PendingKind marks what the conversation is waiting on from the caller.
type PendingKind string

const (
	PendingNone           PendingKind = ""
	PendingDisambiguation PendingKind = "disambiguation"
	PendingConfirmation   PendingKind = "confirmation"
	PendingVerification   PendingKind = "verification"
)

// PendingState holds the transient substate carried across turns: the
// disambiguation candidates presented, a proposed action awaiting a yes/no,
// or the verification question asked before a sensitive disclosure.
type PendingState struct {
	Kind           PendingKind `json:"kind"`
	Candidates     []string    `json:"candidates,omitempty"`     // venue names offered
	ProposedAction string      `json:"proposedAction,omitempty"` // e.g. "set_volume:Edge:8"
	ExpectedAnswer string      `json:"expectedAnswer,omitempty"` // verification fact
	DeferredIntent string      `json:"deferredIntent,omitempty"` // intent resumed after gate
	Attempts       int         `json:"attempts"`
}

// Message is one entry in the bounded conversation history.
type Message struct {
	Role      string    `json:"role"` // "caller" or "bot"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// CallerSession is the conversational memory for one caller identifier.
// At most one active session exists per caller at a time.
type CallerSession struct {
	CallerID     string        `json:"callerId"`
	Channel      string        `json:"channel"` // "whatsapp", "line"
	DisplayName  string        `json:"displayName,omitempty"`
	VenueName    string        `json:"venueName,omitempty"`
	ZoneName     string        `json:"zoneName,omitempty"`
	Pending      PendingState  `json:"pending"`
	History      []Message     `json:"history"`
	Status       SessionStatus `json:"status"`
	LastActivity time.Time     `json:"lastActivity"`
	CreatedAt    time.Time     `json:"createdAt"`

	// Trusted-caller memory: a caller who passed verification for a venue
	// skips the identity check for that venue until the trust expires.
	TrustedVenue   string    `json:"trustedVenue,omitempty"`
	TrustedUntil   time.Time `json:"trustedUntil,omitempty"`
	FailedAttempts int       `json:"failedAttempts"`
}

// IsResolved reports whether the session has a venue attached.
func (s *CallerSession) IsResolved() bool {
	return s.VenueName != ""
}

// IsTrustedFor reports whether the caller passed verification for venue
// within the trust window.
func (s *CallerSession) IsTrustedFor(venue string, now time.Time) bool {
	return s.TrustedVenue == venue && now.Before(s.TrustedUntil)
}
