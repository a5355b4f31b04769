// internal/resolver/resolver.go
package resolver

import (
	"errors"
	"sort"
	"strings"
	"unicode"

	"bma-social-bot/internal/catalog"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

var (
	ErrCatalogNotLoaded = errors.New("DATA_INTEGRITY")
)

// Config carries the matching thresholds. Tunable, not constant: the defaults
// were chosen from observed behavior on historical conversation logs.
type Config struct {
	AutoAcceptThreshold float64
	CandidateFloor      float64
	DisambiguationGap   float64
	SignificantTokenLen int
	GenericWords        []string
	MaxCandidates       int
}

// SessionHint is the optional conversational context carried into a turn.
type SessionHint struct {
	VenueName string
	ZoneName  string
}

// Resolver maps free text plus an optional session hint to a MatchResult.
// It is a pure function over the catalog: no I/O, no mutation.
type Resolver struct {
	cfg     Config
	catalog *catalog.Catalog
	generic map[string]bool
	logger  logger.Logger
}

func New(cfg Config, cat *catalog.Catalog, log logger.Logger) *Resolver {
	generic := make(map[string]bool, len(cfg.GenericWords))
	for _, w := range cfg.GenericWords {
		generic[strings.ToLower(w)] = true
	}
	return &Resolver{
		cfg:     cfg,
		catalog: cat,
		generic: generic,
		logger:  log.With(map[string]interface{}{"component": "resolver"}),
	}
}

// Resolve scores the message against every catalog alias and applies the
// decision policy. A missing match is a normal MatchResult state, not an
// error; the only error is an unloaded catalog.
func (r *Resolver) Resolve(text string, hint *SessionHint) (*models.MatchResult, error) {
	if !r.catalog.Loaded() {
		return nil, ErrCatalogNotLoaded
	}

	norm := normalize(text)
	tokens := strings.Fields(norm)

	// Sticky context: a resolved session plus a message with no new venue
	// mention keeps the conversation on the same venue and zone.
	if hint != nil && hint.VenueName != "" && !r.mentionsAnyVenue(norm, tokens) {
		if v := r.catalog.VenueByName(hint.VenueName); v != nil {
			res := &models.MatchResult{
				Venue:      v,
				Confidence: 1.0,
				Decision:   models.DecisionAutoAccept,
				Sticky:     true,
			}
			res.Zone = r.resolveZone(v, norm, tokens, hint.ZoneName)
			return res, nil
		}
	}

	// A message made up entirely of generic words ("hotel", "help") can
	// never identify a venue, whatever the catalog contains.
	if r.allGeneric(tokens) {
		return &models.MatchResult{Decision: models.DecisionNoMatch}, nil
	}

	candidates := r.scoreAliases(norm, tokens, hint)
	if len(candidates) == 0 || candidates[0].Score < r.cfg.CandidateFloor {
		return &models.MatchResult{Decision: models.DecisionNoMatch}, nil
	}

	top := candidates[0]
	if top.Score >= r.cfg.AutoAcceptThreshold {
		res := &models.MatchResult{
			Venue:      top.Venue,
			Confidence: top.Score,
			Decision:   models.DecisionAutoAccept,
		}
		zoneHint := ""
		if hint != nil && hint.VenueName == top.Venue.Name {
			zoneHint = hint.ZoneName
		}
		res.Zone = r.resolveZone(top.Venue, norm, tokens, zoneHint)
		return res, nil
	}

	// Between floor and auto-accept: hand back candidates so the
	// conversation layer can ask. Only runner-ups within the configured
	// gap of the leader are genuine ambiguity; anything further behind is
	// noise and would just pad the question. Zone ambiguity never reaches
	// here; it is asked for separately once the venue is settled.
	shown := dedupeByVenue(candidates)
	near := shown[:1]
	for _, c := range shown[1:] {
		if top.Score-c.Score < r.cfg.DisambiguationGap {
			near = append(near, c)
		}
	}
	shown = near
	if len(shown) > r.cfg.MaxCandidates {
		shown = shown[:r.cfg.MaxCandidates]
	}
	return &models.MatchResult{
		Confidence: top.Score,
		Decision:   models.DecisionDisambiguate,
		Candidates: shown,
	}, nil
}

// scoreAliases runs the hybrid scorer over every alias and returns candidates
// above the floor, best first. Ties prefer the caller's previous venue, then
// the longer (more specific) alias.
func (r *Resolver) scoreAliases(norm string, tokens []string, hint *SessionHint) []models.Candidate {
	var out []models.Candidate
	for _, entry := range r.catalog.AllAliases() {
		score := r.scoreAlias(entry.Alias, norm, tokens)
		if score >= r.cfg.CandidateFloor {
			out = append(out, models.Candidate{
				Venue: entry.Venue,
				Name:  entry.Venue.Name,
				Score: score,
			})
		}
	}

	prevVenue := ""
	if hint != nil {
		prevVenue = hint.VenueName
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if prevVenue != "" && (out[i].Name == prevVenue) != (out[j].Name == prevVenue) {
			return out[i].Name == prevVenue
		}
		return len(out[i].Name) > len(out[j].Name)
	})
	return out
}

// scoreAlias combines exact containment, significant-token overlap, and an
// edit-distance fallback for typos.
func (r *Resolver) scoreAlias(alias, norm string, msgTokens []string) float64 {
	if containsWhole(norm, alias) {
		return 1.0
	}

	aliasTokens := strings.Fields(alias)
	best := r.tokenOverlap(aliasTokens, msgTokens)

	if sim := r.bestWindowSimilarity(alias, len(aliasTokens), msgTokens); sim > best {
		best = sim
	}
	return best
}

// tokenOverlap scores multi-word aliases by the fraction of alias tokens
// present in the message. Every significant token of the alias must appear;
// a lone generic word never matches.
func (r *Resolver) tokenOverlap(aliasTokens, msgTokens []string) float64 {
	if len(aliasTokens) == 0 {
		return 0
	}

	msgSet := make(map[string]bool, len(msgTokens))
	for _, t := range msgTokens {
		msgSet[t] = true
	}

	matched := 0
	significant := 0
	significantMatched := 0
	for _, at := range aliasTokens {
		isSig := len([]rune(at)) > r.cfg.SignificantTokenLen && !r.generic[at]
		if isSig {
			significant++
		}
		if msgSet[at] {
			matched++
			if isSig {
				significantMatched++
			}
		}
	}

	if significant == 0 || significantMatched < significant {
		return 0
	}
	return float64(matched) / float64(len(aliasTokens))
}

// bestWindowSimilarity slides a window of the alias's token width across the
// message and takes the best normalized edit-distance ratio. Catches typos
// like "hiltn pattya".
func (r *Resolver) bestWindowSimilarity(alias string, width int, msgTokens []string) float64 {
	if width == 0 || len(msgTokens) == 0 {
		return 0
	}
	if width > len(msgTokens) {
		width = len(msgTokens)
	}

	best := 0.0
	for i := 0; i+width <= len(msgTokens); i++ {
		window := strings.Join(msgTokens[i:i+width], " ")
		if r.generic[window] {
			continue
		}
		if sim := similarityRatio(alias, window); sim > best {
			best = sim
		}
	}
	// Edit distance is a weak signal; damp it so a sloppy partial overlap
	// cannot outrank a real token match into auto-accept territory.
	if best >= 1.0 {
		return 1.0
	}
	return best * 0.9
}

// resolveZone is the narrower second pass: zone names are matched only
// against the fixed venue's zones. An unresolved zone is fine; it gets asked
// for separately.
func (r *Resolver) resolveZone(v *models.Venue, norm string, tokens []string, zoneHint string) *models.Zone {
	bestScore := 0.0
	var best *models.Zone

	for i := range v.Zones {
		z := &v.Zones[i]
		zn := strings.ToLower(z.Name)
		score := 0.0
		if containsWhole(norm, zn) {
			score = 1.0
		} else {
			znTokens := strings.Fields(zn)
			score = overlapRatio(znTokens, tokens)
			if sim := r.bestWindowSimilarity(zn, len(znTokens), tokens); sim > score {
				score = sim
			}
		}
		if score > bestScore {
			bestScore = score
			best = z
		}
	}

	if bestScore >= r.cfg.AutoAcceptThreshold {
		return best
	}
	if zoneHint != "" {
		return v.ZoneByName(zoneHint)
	}
	return nil
}

// mentionsAnyVenue reports whether the message carries a plausible venue
// mention: any alias contained whole, or any significant alias token present.
func (r *Resolver) mentionsAnyVenue(norm string, tokens []string) bool {
	tokenSet := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		tokenSet[t] = true
	}
	for _, entry := range r.catalog.AllAliases() {
		if containsWhole(norm, entry.Alias) {
			return true
		}
		for _, at := range strings.Fields(entry.Alias) {
			if len([]rune(at)) > r.cfg.SignificantTokenLen && !r.generic[at] && tokenSet[at] {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) allGeneric(tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, t := range tokens {
		if !r.generic[t] {
			return false
		}
	}
	return true
}

// --- helpers ---

// normalize lowercases and strips punctuation, collapsing runs of space.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// containsWhole reports whether needle occurs in haystack on word boundaries.
func containsWhole(haystack, needle string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], needle)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(needle)
		beforeOK := start == 0 || haystack[start-1] == ' '
		afterOK := end == len(haystack) || haystack[end] == ' '
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
		if idx >= len(haystack) {
			return false
		}
	}
}

func overlapRatio(aTokens, bTokens []string) float64 {
	if len(aTokens) == 0 {
		return 0
	}
	set := make(map[string]bool, len(bTokens))
	for _, t := range bTokens {
		set[t] = true
	}
	matched := 0
	for _, t := range aTokens {
		if set[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(aTokens))
}

func dedupeByVenue(in []models.Candidate) []models.Candidate {
	seen := make(map[string]bool, len(in))
	out := make([]models.Candidate, 0, len(in))
	for _, c := range in {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c)
		}
	}
	return out
}
