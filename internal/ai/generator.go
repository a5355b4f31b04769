// internal/ai/generator.go
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

// Generator produces conversational reply text. Implementations never see
// the caller directly; everything they return passes through the response
// guard first.
type Generator interface {
	Reply(ctx context.Context, req *ReplyRequest) (string, error)
}

// ReplyRequest carries the grounding context for one reply: the caller's
// message, recent history, and the resolved venue's facts. The generator is
// told only facts it is allowed to restate.
type ReplyRequest struct {
	Message   string
	History   []models.Message
	VenueName string
	ZoneName  string
	ZoneNames []string
	Intent    string
}

// OpenAIGenerator talks to the chat completion API with a per-call timeout
// and bounded exponential backoff. Any terminal failure maps to
// GENERATION_UNAVAILABLE so the conversation layer can fall back to a
// template.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	maxRetries  int
	logger      logger.Logger
}

func NewOpenAIGenerator(cfg config.APIsConfig, log logger.Logger) *OpenAIGenerator {
	return &OpenAIGenerator{
		client:      openai.NewClient(cfg.OpenAI.APIKey),
		model:       cfg.OpenAI.Model,
		maxTokens:   cfg.OpenAI.MaxTokens,
		temperature: float32(cfg.OpenAI.Temperature),
		timeout:     config.GetDuration(cfg.OpenAI.Timeout),
		maxRetries:  cfg.OpenAI.MaxRetries,
		logger:      log.With(map[string]interface{}{"component": "ai_generator"}),
	}
}

func (g *OpenAIGenerator) Reply(ctx context.Context, req *ReplyRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	messages := g.buildMessages(req)

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", commonerrors.NewGenerationUnavailableError(ctx.Err())
			}
		}

		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    messages,
			MaxTokens:   g.maxTokens,
			Temperature: g.temperature,
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return "", commonerrors.NewGenerationUnavailableError(ctx.Err())
			}
			g.logger.WithError(err).Warn("completion attempt failed", map[string]interface{}{
				"attempt": attempt,
			})
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("empty completion response")
			continue
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}

	return "", commonerrors.NewGenerationUnavailableError(lastErr)
}

const systemPrompt = `You are the support assistant for a background-music service used by hotels, restaurants, and retail venues. Be brief, warm, and practical.

Hard rules:
- Never state prices, fees, or amounts of money.
- Never state contract dates or renewal dates.
- Never name products, apps, or companies other than this service.
- Only mention the zones listed in the context.
- If you do not know something, say the team will follow up.`

func (g *OpenAIGenerator) buildMessages(req *ReplyRequest) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if req.VenueName != "" {
		fmt.Fprintf(&sb, "\n\nVenue: %s", req.VenueName)
		if len(req.ZoneNames) > 0 {
			fmt.Fprintf(&sb, "\nZones: %s", strings.Join(req.ZoneNames, ", "))
		}
		if req.ZoneName != "" {
			fmt.Fprintf(&sb, "\nCurrent zone: %s", req.ZoneName)
		}
	}
	if req.Intent != "" {
		fmt.Fprintf(&sb, "\nDetected intent: %s", req.Intent)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: sb.String()},
	}
	for _, m := range req.History {
		role := openai.ChatMessageRoleUser
		if m.Role == "bot" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Message,
	})
	return messages
}
