// internal/escalation/router.go
package escalation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

// Trigger names the reason a conversation is being handed to humans.
type Trigger string

const (
	TriggerTechnicalIssue     Trigger = "technical_issue"
	TriggerPricingQuestion    Trigger = "pricing_question"
	TriggerVerificationFailed Trigger = "verification_failed"
	TriggerDesignRequest      Trigger = "design_request"
	TriggerUnhandled          Trigger = "unhandled"
	TriggerIdentifyGiveUp     Trigger = "identify_give_up"
	TriggerGuardRejected      Trigger = "guard_rejected"
)

// Notifier delivers one escalation. Implementations must not block the
// conversation turn; Raise calls them on their own goroutine.
type Notifier interface {
	Notify(ctx context.Context, req *models.EscalationRequest) error
	Name() string
}

// Router classifies a trigger into category and priority and fans the
// request out to every configured notifier. Delivery is fire-and-forget:
// retryable failures get a couple of redelivery attempts, then the error
// is logged, never surfaced to the caller.
type Router struct {
	notifiers []Notifier
	logger    logger.Logger
	timeout   time.Duration
	onRaised  func(category string)
}

func NewRouter(notifiers []Notifier, timeout time.Duration, log logger.Logger) *Router {
	return &Router{
		notifiers: notifiers,
		logger:    log.With(map[string]interface{}{"component": "escalation_router"}),
		timeout:   timeout,
	}
}

// OnRaised registers a metrics hook invoked once per raised escalation.
func (r *Router) OnRaised(fn func(category string)) {
	r.onRaised = fn
}

// Raise builds the escalation from the session and message and dispatches
// it. The returned request is what the caller-facing handoff message is
// built from.
func (r *Router) Raise(ctx context.Context, sess *models.CallerSession, trigger Trigger, message string) *models.EscalationRequest {
	category, priority := Classify(trigger, message)

	req := &models.EscalationRequest{
		ID:         uuid.New().String(),
		VenueName:  sess.VenueName,
		ZoneName:   sess.ZoneName,
		CallerID:   sess.CallerID,
		CallerName: sess.DisplayName,
		Channel:    sess.Channel,
		Category:   category,
		Priority:   priority,
		Summary:    summarize(message),
		CreatedAt:  time.Now().UTC(),
	}

	r.logger.Info("escalation raised", map[string]interface{}{
		"id":       req.ID,
		"venue":    req.VenueName,
		"category": string(category),
		"priority": string(priority),
		"trigger":  string(trigger),
	})
	if r.onRaised != nil {
		r.onRaised(string(category))
	}

	for _, n := range r.notifiers {
		go r.deliver(n, req)
	}
	return req
}

func (r *Router) deliver(n Notifier, req *models.EscalationRequest) {
	attempt := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		return n.Notify(ctx, req)
	}

	err := attempt()
	var stdErr *commonerrors.StandardError
	if err != nil && errors.As(err, &stdErr) && commonerrors.IsRetryableErrorCode(stdErr.Code) {
		for i := 0; i < commonerrors.GetRetryCount(stdErr.Code) && err != nil; i++ {
			time.Sleep(time.Duration(i+1) * 50 * time.Millisecond)
			err = attempt()
		}
	}

	if err != nil {
		r.logger.WithError(err).Error("escalation delivery failed", map[string]interface{}{
			"id":      req.ID,
			"channel": n.Name(),
		})
		return
	}
	r.logger.Debug("escalation delivered", map[string]interface{}{
		"id":      req.ID,
		"channel": n.Name(),
	})
}

var urgentTokens = []string{
	"urgent", "asap", "immediately", "right now", "emergency",
	"event tonight", "wedding", "vip", "all zones down",
}

// Classify maps a trigger plus the caller's own words to a routing decision.
// Technical issues are high priority when the caller signals urgency or a
// full outage, medium otherwise.
func Classify(trigger Trigger, message string) (models.EscalationCategory, models.EscalationPriority) {
	lower := strings.ToLower(message)

	switch trigger {
	case TriggerTechnicalIssue:
		if containsAny(lower, urgentTokens) || strings.Contains(lower, "broken") || strings.Contains(lower, "nothing works") {
			return models.CategoryUrgent, models.PriorityHigh
		}
		return models.CategoryTechnical, models.PriorityMedium
	case TriggerPricingQuestion:
		return models.CategoryPricing, models.PriorityMedium
	case TriggerVerificationFailed:
		return models.CategoryVerification, models.PriorityMedium
	case TriggerDesignRequest:
		return models.CategoryDesign, models.PriorityLow
	case TriggerIdentifyGiveUp:
		return models.CategoryGeneral, models.PriorityLow
	case TriggerGuardRejected:
		return models.CategoryGeneral, models.PriorityMedium
	default:
		if containsAny(lower, urgentTokens) {
			return models.CategoryUrgent, models.PriorityHigh
		}
		return models.CategoryGeneral, models.PriorityLow
	}
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

const maxSummaryLen = 300

func summarize(message string) string {
	message = strings.TrimSpace(message)
	if len(message) <= maxSummaryLen {
		return message
	}
	return message[:maxSummaryLen-3] + "..."
}
