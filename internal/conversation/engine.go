// internal/conversation/engine.go
package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"bma-social-bot/internal/ai"
	"bma-social-bot/internal/catalog"
	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/common/observability"
	"bma-social-bot/internal/escalation"
	"bma-social-bot/internal/guard"
	"bma-social-bot/internal/models"
	"bma-social-bot/internal/platform"
	"bma-social-bot/internal/resolver"
	"bma-social-bot/internal/session"
)

// TurnInput is the tuple the channel adapter delivers for one inbound
// message.
type TurnInput struct {
	CallerID    string
	Text        string
	Channel     string
	DisplayName string
}

// PlatformClient is the zone-control contract the engine needs from the
// music platform.
type PlatformClient interface {
	Status(ctx context.Context, deviceID string) (*platform.ZoneStatus, error)
	SetVolume(ctx context.Context, deviceID string, level int) error
	Control(ctx context.Context, deviceID, command string) error
	SetPlaylist(ctx context.Context, deviceID, playlist string) error
}

// Engine orchestrates one conversation turn: resolve the venue, settle any
// pending question, classify the intent, act or escalate, and pass every
// outbound reply through the guard. It never returns an error to the
// channel adapter; every failure path ends in a templated reply.
type Engine struct {
	cfg         config.ConversationConfig
	catalog     *catalog.Catalog
	resolver    *resolver.Resolver
	sessions    *session.Store
	guard       *guard.Guard
	escalations *escalation.Router
	generator   ai.Generator
	platform    PlatformClient
	obs         *observability.Observability
	logger      logger.Logger
}

type Dependencies struct {
	Catalog     *catalog.Catalog
	Resolver    *resolver.Resolver
	Sessions    *session.Store
	Guard       *guard.Guard
	Escalations *escalation.Router
	Generator   ai.Generator
	Platform    PlatformClient
	Obs         *observability.Observability
	Logger      logger.Logger
}

func NewEngine(cfg config.ConversationConfig, deps Dependencies) *Engine {
	return &Engine{
		cfg:         cfg,
		catalog:     deps.Catalog,
		resolver:    deps.Resolver,
		sessions:    deps.Sessions,
		guard:       deps.Guard,
		escalations: deps.Escalations,
		generator:   deps.Generator,
		platform:    deps.Platform,
		obs:         deps.Obs,
		logger:      deps.Logger.With(map[string]interface{}{"component": "conversation_engine"}),
	}
}

// HandleTurn processes one inbound message and returns the outbound reply.
// The turn runs under the configured processing budget; a slow collaborator
// is abandoned and the caller gets the honest fallback instead.
func (e *Engine) HandleTurn(ctx context.Context, in *TurnInput) string {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(e.cfg.TurnBudget))
	defer cancel()

	sess, err := e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		if in.DisplayName != "" && s.DisplayName == "" {
			s.DisplayName = in.DisplayName
		}
	})
	if err != nil {
		e.logger.WithError(err).Error("session load failed", map[string]interface{}{
			"caller_id": in.CallerID,
		})
		return replyEscalated
	}

	reply, venue, outcome := e.process(ctx, sess, in)

	if verdict := e.guard.Check(reply, venue); !verdict.Allowed {
		e.logger.WithError(verdict.Err()).Warn("outbound reply replaced", map[string]interface{}{
			"caller_id": in.CallerID,
			"rule":      verdict.Rule,
		})
		if e.obs != nil {
			e.obs.RecordGuardRejection(ctx, verdict.Rule)
		}
		e.escalations.Raise(ctx, sess, escalation.TriggerGuardRejected, in.Text)
		reply = verdict.Replacement
		outcome = "guard_rejected"
	}

	if _, err := e.sessions.RecordTurn(ctx, in.CallerID, in.Channel, in.Text, reply); err != nil {
		e.logger.WithError(err).Warn("record turn failed", map[string]interface{}{
			"caller_id": in.CallerID,
		})
	}

	if e.obs != nil {
		e.obs.RecordTurn(ctx, outcome)
		e.obs.RecordTurnDuration(ctx, time.Since(start), outcome)
	}
	e.logger.Info("turn processed", map[string]interface{}{
		"caller_id": in.CallerID,
		"channel":   in.Channel,
		"outcome":   outcome,
		"duration":  time.Since(start).String(),
	})
	return reply
}

// process picks the reply for the turn. It returns the venue in effect so
// the guard can validate against its records.
func (e *Engine) process(ctx context.Context, sess *models.CallerSession, in *TurnInput) (string, *models.Venue, string) {
	if IsRestart(in.Text) && (sess.IsResolved() || sess.Pending.Kind != models.PendingNone) {
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.VenueName = ""
			s.ZoneName = ""
			s.Pending = models.PendingState{}
		})
		return replyRestart, nil, "restart"
	}

	switch sess.Pending.Kind {
	case models.PendingDisambiguation:
		return e.settleDisambiguation(ctx, sess, in)
	case models.PendingVerification:
		return e.settleVerification(ctx, sess, in)
	case models.PendingConfirmation:
		return e.settleConfirmation(ctx, sess, in)
	}

	hint := &resolver.SessionHint{VenueName: sess.VenueName, ZoneName: sess.ZoneName}
	res, err := e.resolver.Resolve(in.Text, hint)
	if err != nil {
		e.logger.WithError(err).Error("resolution unavailable", nil)
		e.escalations.Raise(ctx, sess, escalation.TriggerTechnicalIssue, in.Text)
		return replyCantReach, nil, "resolver_error"
	}

	switch res.Decision {
	case models.DecisionNoMatch:
		if sess.IsResolved() {
			// Text mentioned something venue-shaped but nothing matched.
			// Stay on the current venue rather than dropping context.
			venue := e.catalog.VenueByName(sess.VenueName)
			if venue != nil {
				return e.handleIntent(ctx, sess, in, venue, sess.ZoneName)
			}
		}
		return e.askForVenue(ctx, sess, in)

	case models.DecisionDisambiguate:
		shown := len(res.Candidates)
		if shown > e.cfg.MaxDisambiguationShown {
			shown = e.cfg.MaxDisambiguationShown
		}
		names := make([]string, 0, shown)
		for _, c := range res.Candidates[:shown] {
			names = append(names, c.Name)
		}
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.Pending = models.PendingState{
				Kind:       models.PendingDisambiguation,
				Candidates: names,
				Attempts:   s.Pending.Attempts,
			}
		})
		return disambiguationPrompt(names), nil, "disambiguation"
	}

	venue := res.Venue
	zoneName := sess.ZoneName
	if res.Zone != nil {
		zoneName = res.Zone.Name
	}
	if !res.Sticky || res.Zone != nil {
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.VenueName = venue.Name
			if zoneName != "" {
				s.ZoneName = zoneName
			}
			s.Pending = models.PendingState{}
		})
	}

	// A first-time resolution from a message that is essentially just the
	// venue name gets a greeting instead of intent handling.
	if !res.Sticky && sess.VenueName != venue.Name && ClassifyIntent(in.Text).Type == IntentGeneral {
		return venueConfirmed(venue.Name), venue, "venue_resolved"
	}
	return e.handleIntent(ctx, sess, in, venue, zoneName)
}

func (e *Engine) askForVenue(ctx context.Context, sess *models.CallerSession, in *TurnInput) (string, *models.Venue, string) {
	attempts := sess.Pending.Attempts + 1
	if attempts >= e.cfg.MaxIdentifyAttempts {
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.Pending = models.PendingState{}
		})
		e.raise(ctx, sess, escalation.TriggerIdentifyGiveUp, in.Text)
		return replyGiveUp, nil, "identify_give_up"
	}

	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.Pending.Attempts = attempts
	})
	if attempts == 1 {
		return replyAskVenue, nil, "ask_venue"
	}
	return replyAskVenueAgain, nil, "ask_venue"
}

var (
	numberReplyRe   = regexp.MustCompile(`^\s*(\d{1,2})\s*\.?\s*$`)
	contractQueryRe = regexp.MustCompile(`(?i)\b(contract|renew|renewal)\b`)
)

// settleDisambiguation matches the caller's answer against the candidates
// offered last turn: a number first, then candidate-name text, then a full
// re-resolution for callers who typed something new entirely.
func (e *Engine) settleDisambiguation(ctx context.Context, sess *models.CallerSession, in *TurnInput) (string, *models.Venue, string) {
	candidates := sess.Pending.Candidates

	if m := numberReplyRe.FindStringSubmatch(in.Text); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n == 0 {
			e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
				s.Pending = models.PendingState{Attempts: s.Pending.Attempts}
			})
			return e.askForVenue(ctx, sess, in)
		}
		if n >= 1 && n <= len(candidates) {
			return e.acceptVenue(ctx, sess, in, candidates[n-1])
		}
	}

	lower := strings.ToLower(in.Text)
	var matched string
	for _, name := range candidates {
		if strings.Contains(lower, strings.ToLower(name)) || candidateTokenMatch(lower, name) {
			if matched != "" && matched != name {
				matched = ""
				break
			}
			matched = name
		}
	}
	if matched != "" {
		return e.acceptVenue(ctx, sess, in, matched)
	}

	// Maybe the caller named a different venue entirely.
	if res, err := e.resolver.Resolve(in.Text, nil); err == nil && res.Decision == models.DecisionAutoAccept {
		return e.acceptVenue(ctx, sess, in, res.Venue.Name)
	}

	attempts := sess.Pending.Attempts + 1
	if attempts >= e.cfg.MaxIdentifyAttempts {
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.Pending = models.PendingState{}
		})
		e.raise(ctx, sess, escalation.TriggerIdentifyGiveUp, in.Text)
		return replyGiveUp, nil, "identify_give_up"
	}
	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.Pending.Attempts = attempts
	})
	return disambiguationPrompt(candidates), nil, "disambiguation"
}

// candidateTokenMatch accepts a distinguishing token of the candidate name,
// e.g. "pattaya" for "Hilton Pattaya".
func candidateTokenMatch(lowerText, candidate string) bool {
	for _, tok := range strings.Fields(strings.ToLower(candidate)) {
		if len(tok) > 4 && strings.Contains(lowerText, tok) {
			return true
		}
	}
	return false
}

func (e *Engine) acceptVenue(ctx context.Context, sess *models.CallerSession, in *TurnInput, name string) (string, *models.Venue, string) {
	venue := e.catalog.VenueByName(name)
	if venue == nil {
		return e.askForVenue(ctx, sess, in)
	}
	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.VenueName = venue.Name
		s.Pending = models.PendingState{}
	})
	return venueConfirmed(venue.Name), venue, "venue_resolved"
}

// settleVerification checks the caller's answer against the fact stored
// when the challenge was asked. A pass opens the trust window and answers
// the deferred question; a fail escalates and never discloses.
func (e *Engine) settleVerification(ctx context.Context, sess *models.CallerSession, in *TurnInput) (string, *models.Venue, string) {
	venue := e.catalog.VenueByName(sess.VenueName)
	if venue == nil {
		return e.askForVenue(ctx, sess, in)
	}

	lower := strings.ToLower(in.Text)
	passed := false
	for _, accepted := range strings.Split(sess.Pending.ExpectedAnswer, "|") {
		accepted = strings.TrimSpace(strings.ToLower(accepted))
		if accepted != "" && strings.Contains(lower, accepted) {
			passed = true
			break
		}
	}

	if !passed {
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.Pending = models.PendingState{}
			s.FailedAttempts++
		})
		verr := commonerrors.NewVerificationFailedError(
			fmt.Sprintf("venue: %s, deferred intent: %s", venue.Name, sess.Pending.DeferredIntent))
		e.logger.WithError(verr).Warn("verification failed", map[string]interface{}{
			"caller_id": in.CallerID,
			"venue":     venue.Name,
		})
		e.raise(ctx, sess, escalation.TriggerVerificationFailed,
			fmt.Sprintf("verification failed for %s: %s", venue.Name, sess.Pending.DeferredIntent))
		return replyVerifyDeflect, venue, "verification_failed"
	}

	deferred := sess.Pending.DeferredIntent
	e.sessions.MarkTrusted(ctx, in.CallerID, in.Channel, venue.Name)
	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.Pending = models.PendingState{}
	})
	return e.answerSensitive(venue, deferred), venue, "sensitive_answered"
}

// settleConfirmation executes or cancels the action proposed last turn.
func (e *Engine) settleConfirmation(ctx context.Context, sess *models.CallerSession, in *TurnInput) (string, *models.Venue, string) {
	venue := e.catalog.VenueByName(sess.VenueName)
	lower := strings.ToLower(strings.TrimSpace(in.Text))

	confirmed := false
	switch {
	case strings.HasPrefix(lower, "y"), strings.Contains(lower, "yes"), strings.Contains(lower, "sure"),
		strings.Contains(lower, "ok"), strings.Contains(lower, "confirm"), strings.Contains(lower, "go ahead"):
		confirmed = true
	}

	action := sess.Pending.ProposedAction
	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.Pending = models.PendingState{}
	})

	if !confirmed {
		return "Okay, I won't change anything. Anything else I can help with?", venue, "confirmation_declined"
	}

	parts := strings.SplitN(action, "|", 3)
	if len(parts) != 3 || venue == nil {
		return replyEscalated, venue, "confirmation_invalid"
	}
	zoneName, playlist := parts[1], parts[2]
	zone := venue.ZoneByName(zoneName)
	if zone == nil {
		return replyEscalated, venue, "confirmation_invalid"
	}

	if err := e.platform.SetPlaylist(ctx, zone.DeviceID, playlist); err != nil {
		return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
	}
	return playlistAck(zone.Name, playlist), venue, "control"
}

func (e *Engine) handleIntent(ctx context.Context, sess *models.CallerSession, in *TurnInput, venue *models.Venue, zoneName string) (string, *models.Venue, string) {
	intent := ClassifyIntent(in.Text)

	switch intent.Type {
	case IntentSensitive:
		return e.handleSensitive(ctx, sess, in, venue)

	case IntentStatus, IntentControl:
		return e.handleZoneOp(ctx, sess, in, venue, zoneName, intent)

	case IntentTechnical:
		e.raise(ctx, sess, escalation.TriggerTechnicalIssue, in.Text)
		return replyTechnicalAck, venue, "technical"

	case IntentDesign:
		e.raise(ctx, sess, escalation.TriggerDesignRequest, in.Text)
		return replyDesignAck, venue, "design"
	}

	return e.generateReply(ctx, sess, in, venue, zoneName, intent)
}

// handleSensitive gates pricing and contract questions behind the identity
// check. A caller who already passed for this venue inside the trust window
// is answered directly.
func (e *Engine) handleSensitive(ctx context.Context, sess *models.CallerSession, in *TurnInput, venue *models.Venue) (string, *models.Venue, string) {
	deferred := "price"
	if contractQueryRe.MatchString(in.Text) {
		deferred = "contract"
	}

	if sess.IsTrustedFor(venue.Name, time.Now().UTC()) {
		return e.answerSensitive(venue, deferred), venue, "sensitive_answered"
	}

	kind, expected := verificationChallenge(venue)
	if expected == "" {
		e.raise(ctx, sess, escalation.TriggerVerificationFailed,
			fmt.Sprintf("no verifiable fact on record for %s", venue.Name))
		return replyVerifyDeflect, venue, "verification_unavailable"
	}

	e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
		s.Pending = models.PendingState{
			Kind:           models.PendingVerification,
			ExpectedAnswer: expected,
			DeferredIntent: deferred,
		}
	})
	return verificationQuestion(kind), venue, "verification_asked"
}

// verificationChallenge picks a fact the caller should know: a registered
// contact's name, else a zone name. Venues with neither cannot be verified
// conversationally.
func verificationChallenge(venue *models.Venue) (string, string) {
	var names []string
	for _, c := range venue.Contacts {
		if c.Name != "" {
			names = append(names, c.Name)
			// Accept the first name on its own as well.
			if first := strings.Fields(c.Name); len(first) > 1 {
				names = append(names, first[0])
			}
		}
	}
	if len(names) > 0 {
		return "contact", strings.Join(names, "|")
	}

	var zones []string
	for _, z := range venue.Zones {
		zones = append(zones, z.Name)
	}
	if len(zones) > 0 {
		return "zone", strings.Join(zones, "|")
	}
	return "", ""
}

func (e *Engine) answerSensitive(venue *models.Venue, deferred string) string {
	if deferred == "contract" {
		return contractReply(venue)
	}
	if venue.AnnualPrice <= 0 {
		return replyVerifyDeflect
	}
	return priceReply(venue)
}

func (e *Engine) handleZoneOp(ctx context.Context, sess *models.CallerSession, in *TurnInput, venue *models.Venue, zoneName string, intent Intent) (string, *models.Venue, string) {
	if zoneName == "" {
		if len(venue.Zones) == 1 {
			zoneName = venue.Zones[0].Name
			e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
				s.ZoneName = zoneName
			})
		} else {
			return askZonePrompt(venue), venue, "ask_zone"
		}
	}

	zone := venue.ZoneByName(zoneName)
	if zone == nil {
		return askZonePrompt(venue), venue, "ask_zone"
	}

	if intent.Type == IntentControl && !zone.Controllable {
		return replyNotControllable, venue, "not_controllable"
	}

	switch intent.Command {
	case "":
		// status_query
		status, err := e.platform.Status(ctx, zone.DeviceID)
		if err != nil {
			return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
		}
		if !status.Online {
			e.raise(ctx, sess, escalation.TriggerTechnicalIssue,
				fmt.Sprintf("zone %s at %s reports offline", zone.Name, venue.Name))
		}
		return statusReply(zone.Name, status), venue, "status"

	case ControlVolumeSet:
		if intent.Level < platform.MinVolume || intent.Level > platform.MaxVolume {
			return fmt.Sprintf("Volume goes from %d to %d. What would you like it set to?",
				platform.MinVolume, platform.MaxVolume), venue, "control"
		}
		if err := e.platform.SetVolume(ctx, zone.DeviceID, intent.Level); err != nil {
			return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
		}
		return volumeAck(zone.Name, intent.Level), venue, "control"

	case ControlVolumeUp, ControlVolumeDown:
		status, err := e.platform.Status(ctx, zone.DeviceID)
		if err != nil {
			return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
		}
		level := status.Volume + 2
		if intent.Command == ControlVolumeDown {
			level = status.Volume - 2
		}
		if level > platform.MaxVolume {
			level = platform.MaxVolume
		}
		if level < platform.MinVolume {
			level = platform.MinVolume
		}
		if err := e.platform.SetVolume(ctx, zone.DeviceID, level); err != nil {
			return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
		}
		return volumeAck(zone.Name, level), venue, "control"

	case ControlPlay, ControlPause, ControlSkip:
		if err := e.platform.Control(ctx, zone.DeviceID, intent.Command); err != nil {
			return e.platformFailure(ctx, sess, in, venue, err), venue, "platform_error"
		}
		return controlAck(zone.Name, intent.Command), venue, "control"

	case ControlPlaylist:
		e.sessions.Mutate(ctx, in.CallerID, in.Channel, func(s *models.CallerSession) {
			s.Pending = models.PendingState{
				Kind:           models.PendingConfirmation,
				ProposedAction: strings.Join([]string{"playlist", zone.Name, intent.Playlist}, "|"),
			}
		})
		return fmt.Sprintf("Switch %s to the %s playlist? (yes/no)", zone.Name, intent.Playlist), venue, "confirmation_asked"
	}

	return e.generateReply(ctx, sess, in, venue, zoneName, intent)
}

// platformFailure maps a platform error to the honest caller-facing message.
// Transient outages escalate; a permission refusal is explained and dropped.
func (e *Engine) platformFailure(ctx context.Context, sess *models.CallerSession, in *TurnInput, venue *models.Venue, err error) string {
	var stdErr *commonerrors.StandardError
	if errors.As(err, &stdErr) && stdErr.Code == commonerrors.ErrCodePlatformPermissionDenied {
		return replyNotControllable
	}
	e.logger.WithError(err).Warn("platform call failed", map[string]interface{}{
		"venue": venue.Name,
	})
	e.raise(ctx, sess, escalation.TriggerTechnicalIssue, in.Text)
	return replyCantReach
}

// generateReply asks the AI generator for conversational text. Generation
// failure degrades to a templated reply plus an escalation so a human picks
// up the thread.
func (e *Engine) generateReply(ctx context.Context, sess *models.CallerSession, in *TurnInput, venue *models.Venue, zoneName string, intent Intent) (string, *models.Venue, string) {
	req := &ai.ReplyRequest{
		Message: in.Text,
		History: sess.History,
		Intent:  string(intent.Type),
	}
	if venue != nil {
		req.VenueName = venue.Name
		req.ZoneName = zoneName
		for _, z := range venue.Zones {
			req.ZoneNames = append(req.ZoneNames, z.Name)
		}
	}

	text, err := e.generator.Reply(ctx, req)
	if err != nil {
		e.logger.WithError(err).Warn("generation failed", map[string]interface{}{
			"caller_id": in.CallerID,
		})
		e.raise(ctx, sess, escalation.TriggerUnhandled, in.Text)
		return replyEscalated, venue, "generation_failed"
	}
	return text, venue, "general"
}

func (e *Engine) raise(ctx context.Context, sess *models.CallerSession, trigger escalation.Trigger, message string) {
	e.escalations.Raise(ctx, sess, trigger, message)
}
