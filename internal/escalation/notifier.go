// internal/escalation/notifier.go
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"bma-social-bot/internal/common/aws"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/httpx"
	"bma-social-bot/internal/models"
)

// WebhookNotifier posts a card to the support team's chat space. The card
// format follows the Google Chat webhook schema.
type WebhookNotifier struct {
	url    string
	client *httpx.Client
}

func NewWebhookNotifier(url string, client *httpx.Client) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: client}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

type chatCard struct {
	Cards []card `json:"cards"`
}

type card struct {
	Header   cardHeader    `json:"header"`
	Sections []cardSection `json:"sections"`
}

type cardHeader struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

type cardSection struct {
	Widgets []cardWidget `json:"widgets"`
}

type cardWidget struct {
	KeyValue *keyValue `json:"keyValue,omitempty"`
	TextPara *textPara `json:"textParagraph,omitempty"`
}

type keyValue struct {
	TopLabel string `json:"topLabel"`
	Content  string `json:"content"`
}

type textPara struct {
	Text string `json:"text"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	venue := req.VenueName
	if venue == "" {
		venue = "Unidentified venue"
	}

	payload := chatCard{Cards: []card{{
		Header: cardHeader{
			Title:    fmt.Sprintf("%s %s", priorityEmoji(req.Priority), venue),
			Subtitle: fmt.Sprintf("%s / %s priority", req.Category, req.Priority),
		},
		Sections: []cardSection{{
			Widgets: []cardWidget{
				{KeyValue: &keyValue{TopLabel: "Zone", Content: orDash(req.ZoneName)}},
				{KeyValue: &keyValue{TopLabel: "Caller", Content: callerLabel(req)}},
				{KeyValue: &keyValue{TopLabel: "Channel", Content: req.Channel}},
				{TextPara: &textPara{Text: req.Summary}},
			},
		}},
	}}}

	body, err := json.Marshal(payload)
	if err != nil {
		return commonerrors.NewNotificationSendFailedError("webhook", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return commonerrors.NewNotificationSendFailedError("webhook", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := w.client.DoWithContext(ctx, httpReq)
	if err != nil {
		return commonerrors.NewNotificationSendFailedError("webhook", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return commonerrors.NewNotificationSendFailedError("webhook",
			fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

func priorityEmoji(p models.EscalationPriority) string {
	switch p {
	case models.PriorityHigh:
		return "🔴"
	case models.PriorityMedium:
		return "🟡"
	default:
		return "🟢"
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func callerLabel(req *models.EscalationRequest) string {
	if req.CallerName != "" {
		return fmt.Sprintf("%s (%s)", req.CallerName, req.CallerID)
	}
	return req.CallerID
}

// EmailNotifier sends the escalation to the support team mailbox via SES.
type EmailNotifier struct {
	ses       *aws.SESClient
	fromEmail string
	team      []string
}

func NewEmailNotifier(sesClient *aws.SESClient, fromEmail string, team []string) *EmailNotifier {
	return &EmailNotifier{ses: sesClient, fromEmail: fromEmail, team: team}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	subject := fmt.Sprintf("[%s] %s escalation", strings.ToUpper(string(req.Priority)), req.Category)
	if req.VenueName != "" {
		subject += " - " + req.VenueName
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Escalation %s\n\n", req.ID)
	fmt.Fprintf(&body, "Venue:    %s\n", orDash(req.VenueName))
	fmt.Fprintf(&body, "Zone:     %s\n", orDash(req.ZoneName))
	fmt.Fprintf(&body, "Caller:   %s\n", callerLabel(req))
	fmt.Fprintf(&body, "Channel:  %s\n", req.Channel)
	fmt.Fprintf(&body, "Category: %s\n", req.Category)
	fmt.Fprintf(&body, "Priority: %s\n\n", req.Priority)
	fmt.Fprintf(&body, "%s\n", req.Summary)

	if err := e.ses.SendText(ctx, e.fromEmail, e.team, subject, body.String()); err != nil {
		return commonerrors.NewNotificationSendFailedError("email", err)
	}
	return nil
}

// SMSNotifier pages the on-call numbers through SNS. Only escalations at or
// above the configured priority go out as SMS.
type SMSNotifier struct {
	sns       *aws.SNSClient
	numbers   []string
	threshold models.EscalationPriority
}

func NewSMSNotifier(snsClient *aws.SNSClient, numbers []string, threshold models.EscalationPriority) *SMSNotifier {
	return &SMSNotifier{sns: snsClient, numbers: numbers, threshold: threshold}
}

func (s *SMSNotifier) Name() string { return "sms" }

var priorityRank = map[models.EscalationPriority]int{
	models.PriorityLow:    0,
	models.PriorityMedium: 1,
	models.PriorityHigh:   2,
}

func (s *SMSNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	if priorityRank[req.Priority] < priorityRank[s.threshold] {
		return nil
	}

	text := fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(req.Priority)),
		orDash(req.VenueName), summarizeForSMS(req.Summary))

	for _, number := range s.numbers {
		if err := s.sns.SendSMS(ctx, number, text); err != nil {
			return commonerrors.NewNotificationSendFailedError("sms", err)
		}
	}
	return nil
}

const maxSMSLen = 140

func summarizeForSMS(s string) string {
	if len(s) <= maxSMSLen {
		return s
	}
	return s[:maxSMSLen-3] + "..."
}
