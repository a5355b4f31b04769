// internal/guard/guard.go
package guard

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

// Verdict is the outcome of validating one candidate reply.
type Verdict struct {
	Allowed     bool
	Rule        string
	Detail      string
	Replacement string
}

// Guard is the chokepoint every outbound reply passes through before it
// reaches a caller. Replies are checked against the resolved venue's actual
// records; anything stating a fact the records do not support is replaced
// wholesale with a deflection, never patched.
type Guard struct {
	cfg      config.GuardConfig
	denylist []string
	logger   logger.Logger
}

var (
	// Money amounts in any of the formats the generator has been seen to
	// produce: "$1,500", "1500 per month", "THB 15,000", "15000 baht".
	pricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$\s?\d[\d,]*(\.\d+)?`),
		regexp.MustCompile(`(?i)\b\d[\d,]*(\.\d+)?\s*(per\s+(month|year|annum)|/\s*(month|year|mo|yr))\b`),
		regexp.MustCompile(`(?i)\bthb\s*\d[\d,]*(\.\d+)?\b`),
		regexp.MustCompile(`(?i)\b\d[\d,]*(\.\d+)?\s*(baht|usd|thb)\b`),
	}

	// Specific calendar dates: "January 15, 2025", "15/01/2025", "2025-01-15".
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2},?\s+\d{4}\b`),
		regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
		regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
	}

	zoneMentionPattern = regexp.MustCompile(`(?i)\b(?:in|at|for)\s+(?:the\s+)?([a-z][a-z ]{2,30}?)\s+zone\b`)
)

const deflection = "Let me connect you with our team who can give you the exact details. One moment please."

func New(cfg config.GuardConfig, log logger.Logger) *Guard {
	denylist := make([]string, 0, len(cfg.DenylistEntities))
	for _, e := range cfg.DenylistEntities {
		denylist = append(denylist, strings.ToLower(e))
	}
	return &Guard{
		cfg:      cfg,
		denylist: denylist,
		logger:   log.With(map[string]interface{}{"component": "guard"}),
	}
}

// Check validates reply against the venue's records. venue may be nil when
// the conversation has not resolved one yet; price, date, and denylist rules
// still apply, zone checks do not. The returned Verdict carries the full
// deflection text when the reply is rejected.
func (g *Guard) Check(reply string, venue *models.Venue) Verdict {
	lower := strings.ToLower(reply)

	if v := g.checkDenylist(lower); !v.Allowed {
		return g.reject(v, venue)
	}
	if v := g.checkPrices(reply, venue); !v.Allowed {
		return g.reject(v, venue)
	}
	if v := g.checkDates(reply, venue); !v.Allowed {
		return g.reject(v, venue)
	}
	if venue != nil {
		if v := g.checkZones(reply, venue); !v.Allowed {
			return g.reject(v, venue)
		}
	}
	return Verdict{Allowed: true}
}

// Err converts a rejecting verdict into the standard error shape for
// logging and metrics. Callers send the Replacement text, not the error.
func (v Verdict) Err() error {
	if v.Allowed {
		return nil
	}
	return commonerrors.NewResponseRejectedError(v.Rule, v.Detail)
}

func (g *Guard) reject(v Verdict, venue *models.Venue) Verdict {
	venueName := ""
	if venue != nil {
		venueName = venue.Name
	}
	g.logger.Warn("reply rejected", map[string]interface{}{
		"rule":   v.Rule,
		"detail": v.Detail,
		"venue":  venueName,
	})
	v.Replacement = deflection
	return v
}

func (g *Guard) checkDenylist(lower string) Verdict {
	for _, entity := range g.denylist {
		if strings.Contains(lower, entity) {
			return Verdict{Rule: "denylist_entity", Detail: entity}
		}
	}
	return Verdict{Allowed: true}
}

// checkPrices rejects any money amount that does not exactly match the
// venue's contracted price. With no venue resolved, every amount is a
// fabrication.
func (g *Guard) checkPrices(reply string, venue *models.Venue) Verdict {
	for _, re := range pricePatterns {
		for _, match := range re.FindAllString(reply, -1) {
			if venue != nil && venue.AnnualPrice > 0 && amountMatches(match, venue.AnnualPrice) {
				continue
			}
			return Verdict{Rule: "unverified_price", Detail: match}
		}
	}
	return Verdict{Allowed: true}
}

// checkDates rejects specific calendar dates unless they match the venue's
// contract start or end.
func (g *Guard) checkDates(reply string, venue *models.Venue) Verdict {
	var allowed []time.Time
	if venue != nil {
		if !venue.ContractStart.IsZero() {
			allowed = append(allowed, venue.ContractStart)
		}
		if !venue.ContractEnd.IsZero() {
			allowed = append(allowed, venue.ContractEnd)
		}
	}

	for _, re := range datePatterns {
		for _, match := range re.FindAllString(reply, -1) {
			if dateMatchesAny(match, allowed) {
				continue
			}
			return Verdict{Rule: "unverified_date", Detail: match}
		}
	}
	return Verdict{Allowed: true}
}

// checkZones rejects replies naming a zone the venue does not have.
func (g *Guard) checkZones(reply string, venue *models.Venue) Verdict {
	for _, m := range zoneMentionPattern.FindAllStringSubmatch(reply, -1) {
		name := strings.TrimSpace(m[1])
		if venue.ZoneByName(name) == nil {
			return Verdict{Rule: "unknown_zone", Detail: name}
		}
	}
	return Verdict{Allowed: true}
}

var digitsOnly = regexp.MustCompile(`\d+`)

// amountMatches compares the digits of a matched money string against the
// known price, ignoring separators and currency symbols.
func amountMatches(match string, price float64) bool {
	stripped := strings.ReplaceAll(match, ",", "")
	digits := digitsOnly.FindAllString(stripped, -1)
	if len(digits) == 0 {
		return false
	}
	joined := strings.Join(digits, ".")
	want := fmt.Sprintf("%g", price)
	return strings.SplitN(joined, ".", 2)[0] == strings.SplitN(want, ".", 2)[0]
}

var dateLayouts = []string{"January 2, 2006", "January 2 2006", "2/1/2006", "1/2/2006", "2006-01-02"}

func dateMatchesAny(match string, allowed []time.Time) bool {
	normalized := titleWords(strings.ToLower(match))
	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, normalized)
		if err != nil {
			continue
		}
		for _, a := range allowed {
			if parsed.Year() == a.Year() && parsed.Month() == a.Month() && parsed.Day() == a.Day() {
				return true
			}
		}
	}
	return false
}

func titleWords(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
