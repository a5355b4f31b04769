// internal/channel/webhook.go
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/conversation"
)

// TurnHandler is the conversational entry point the adapter drives.
type TurnHandler interface {
	HandleTurn(ctx context.Context, in *conversation.TurnInput) string
}

// Webhook is the inbound adapter: it turns channel payloads into
// (callerId, text, channel, displayName) tuples and writes the engine's
// reply back. Transport concerns beyond payload shape (signature
// verification, channel-side retries) live at the gateway in front of this
// service.
type Webhook struct {
	engine TurnHandler
	logger logger.Logger
}

func NewWebhook(engine TurnHandler, log logger.Logger) *Webhook {
	return &Webhook{
		engine: engine,
		logger: log.With(map[string]interface{}{"component": "channel_webhook"}),
	}
}

type inboundMessage struct {
	CallerID    string `json:"callerId"`
	Text        string `json:"text"`
	DisplayName string `json:"displayName,omitempty"`
}

type outboundMessage struct {
	Reply string `json:"reply"`
}

// Register mounts the per-channel message endpoints.
func (w *Webhook) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhook/whatsapp", w.handleMessage("whatsapp"))
	mux.HandleFunc("POST /webhook/line", w.handleMessage("line"))
}

func (w *Webhook) handleMessage(channelName string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var msg inboundMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			w.logger.WithError(err).Warn("undecodable webhook payload", map[string]interface{}{
				"channel": channelName,
			})
			http.Error(rw, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
		msg.CallerID = strings.TrimSpace(msg.CallerID)
		if msg.CallerID == "" || strings.TrimSpace(msg.Text) == "" {
			http.Error(rw, `{"error":"callerId and text are required"}`, http.StatusBadRequest)
			return
		}

		reply := w.engine.HandleTurn(r.Context(), &conversation.TurnInput{
			CallerID:    channelName + ":" + msg.CallerID,
			Text:        msg.Text,
			Channel:     channelName,
			DisplayName: msg.DisplayName,
		})

		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(outboundMessage{Reply: reply})
	}
}
