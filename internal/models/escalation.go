// internal/models/escalation.go
package models

import "time"

// EscalationCategory partitions escalations for department routing.
type EscalationCategory string

const (
	CategoryTechnical    EscalationCategory = "technical"
	CategoryPricing      EscalationCategory = "pricing"
	CategoryVerification EscalationCategory = "verification"
	CategoryDesign       EscalationCategory = "design"
	CategoryUrgent       EscalationCategory = "urgent"
	CategoryGeneral      EscalationCategory = "general"
)

// EscalationPriority orders escalations for the human team.
type EscalationPriority string

const (
	PriorityLow    EscalationPriority = "low"
	PriorityMedium EscalationPriority = "medium"
	PriorityHigh   EscalationPriority = "high"
)

// EscalationRequest is the ephemeral payload handed to the notification
// channel. Delivery state belongs to the channel, not the core.
type EscalationRequest struct {
	ID         string             `json:"id"`
	VenueName  string             `json:"venueName,omitempty"`
	ZoneName   string             `json:"zoneName,omitempty"`
	CallerID   string             `json:"callerId"`
	CallerName string             `json:"callerName,omitempty"`
	Channel    string             `json:"channel"` // messaging channel the caller used
	Category   EscalationCategory `json:"category"`
	Priority   EscalationPriority `json:"priority"`
	Summary    string             `json:"summary"`
	CreatedAt  time.Time          `json:"createdAt"`
}
