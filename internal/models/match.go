// internal/models/match.go
package models

// MatchDecision is the resolver's policy outcome for a turn.
type MatchDecision string

const (
	DecisionAutoAccept   MatchDecision = "auto_accept"
	DecisionDisambiguate MatchDecision = "disambiguate"
	DecisionNoMatch      MatchDecision = "no_match"
)

// Candidate is one scored alternative offered for disambiguation.
type Candidate struct {
	Venue *Venue  `json:"-"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// MatchResult is the ephemeral outcome of resolving free text against the
// catalog. It is not persisted beyond the turn that produced it; an accepted
// match is written into the caller session.
type MatchResult struct {
	Venue      *Venue        `json:"-"`
	Zone       *Zone         `json:"-"`
	Confidence float64       `json:"confidence"`
	Decision   MatchDecision `json:"decision"`
	Candidates []Candidate   `json:"candidates,omitempty"`
	Sticky     bool          `json:"sticky"` // true when carried over from session context
}
