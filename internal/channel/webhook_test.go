// internal/channel/webhook_test.go
package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/conversation"
)

type recordingEngine struct {
	last *conversation.TurnInput
}

func (r *recordingEngine) HandleTurn(ctx context.Context, in *conversation.TurnInput) string {
	r.last = in
	return "hello " + in.DisplayName
}

func TestWebhookRoundTrip(t *testing.T) {
	engine := &recordingEngine{}
	mux := http.NewServeMux()
	NewWebhook(engine, logger.NewTestLogger(t)).Register(mux)

	body := `{"callerId":"+66812345678","text":"hi there","displayName":"Khun Siri"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"hello Khun Siri"}`, rec.Body.String())

	require.NotNil(t, engine.last)
	assert.Equal(t, "whatsapp:+66812345678", engine.last.CallerID)
	assert.Equal(t, "whatsapp", engine.last.Channel)
	assert.Equal(t, "hi there", engine.last.Text)
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	mux := http.NewServeMux()
	NewWebhook(&recordingEngine{}, logger.NewTestLogger(t)).Register(mux)

	for _, body := range []string{
		`{"text":"hi"}`,
		`{"callerId":"+66812345678"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/line", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}
