// internal/escalation/router_test.go
package escalation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/httpx"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/models"
)

type captureNotifier struct {
	mu   sync.Mutex
	got  []*models.EscalationRequest
	err  error
	done chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 10)}
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	c.mu.Lock()
	c.got = append(c.got, req)
	c.mu.Unlock()
	c.done <- struct{}{}
	return c.err
}

func (c *captureNotifier) wait(t *testing.T) *models.EscalationRequest {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier was never called")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.got)
	return c.got[len(c.got)-1]
}

func testSession() *models.CallerSession {
	return &models.CallerSession{
		CallerID:    "whatsapp:+66812345678",
		Channel:     "whatsapp",
		DisplayName: "Khun Siri",
		VenueName:   "Hilton Pattaya",
		ZoneName:    "Drift Bar",
		Status:      models.SessionActive,
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		trigger      Trigger
		message      string
		wantCategory models.EscalationCategory
		wantPriority models.EscalationPriority
	}{
		{
			name:         "plain technical issue",
			trigger:      TriggerTechnicalIssue,
			message:      "the music keeps skipping in the lobby",
			wantCategory: models.CategoryTechnical,
			wantPriority: models.PriorityMedium,
		},
		{
			name:         "urgent technical issue",
			trigger:      TriggerTechnicalIssue,
			message:      "music is down and we have an event tonight",
			wantCategory: models.CategoryUrgent,
			wantPriority: models.PriorityHigh,
		},
		{
			name:         "broken hardware",
			trigger:      TriggerTechnicalIssue,
			message:      "the player is broken",
			wantCategory: models.CategoryUrgent,
			wantPriority: models.PriorityHigh,
		},
		{
			name:         "pricing question",
			trigger:      TriggerPricingQuestion,
			message:      "how much would an extra zone cost",
			wantCategory: models.CategoryPricing,
			wantPriority: models.PriorityMedium,
		},
		{
			name:         "verification failure",
			trigger:      TriggerVerificationFailed,
			message:      "i dont know the contract details",
			wantCategory: models.CategoryVerification,
			wantPriority: models.PriorityMedium,
		},
		{
			name:         "design request",
			trigger:      TriggerDesignRequest,
			message:      "can we get a custom playlist designed for the spa",
			wantCategory: models.CategoryDesign,
			wantPriority: models.PriorityLow,
		},
		{
			name:         "unhandled request",
			trigger:      TriggerUnhandled,
			message:      "what is the meaning of life",
			wantCategory: models.CategoryGeneral,
			wantPriority: models.PriorityLow,
		},
		{
			name:         "unhandled but urgent wording",
			trigger:      TriggerUnhandled,
			message:      "i need someone right now",
			wantCategory: models.CategoryUrgent,
			wantPriority: models.PriorityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, priority := Classify(tt.trigger, tt.message)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantPriority, priority)
		})
	}
}

func TestRaiseFansOutAndReturnsRequest(t *testing.T) {
	first := newCaptureNotifier()
	second := newCaptureNotifier()
	router := NewRouter([]Notifier{first, second}, time.Second, logger.NewTestLogger(t))

	var raisedCategory string
	router.OnRaised(func(c string) { raisedCategory = c })

	req := router.Raise(context.Background(), testSession(), TriggerTechnicalIssue, "music stopped in drift bar")
	require.NotNil(t, req)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "Hilton Pattaya", req.VenueName)
	assert.Equal(t, models.CategoryTechnical, req.Category)
	assert.Equal(t, "technical", raisedCategory)

	got1 := first.wait(t)
	got2 := second.wait(t)
	assert.Equal(t, req.ID, got1.ID)
	assert.Equal(t, req.ID, got2.ID)
}

func TestRaiseSurvivesNotifierFailure(t *testing.T) {
	failing := newCaptureNotifier()
	failing.err = assert.AnError
	router := NewRouter([]Notifier{failing}, time.Second, logger.NewTestLogger(t))

	req := router.Raise(context.Background(), testSession(), TriggerUnhandled, "hello")
	require.NotNil(t, req)
	failing.wait(t)
}

// flakyNotifier fails its first delivery with a retryable error and then
// succeeds, closing ok when the redelivery lands.
type flakyNotifier struct {
	mu       sync.Mutex
	calls    int
	failures int
	ok       chan struct{}
}

func (f *flakyNotifier) Name() string { return "flaky" }

func (f *flakyNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return commonerrors.NewNotificationSendFailedError("flaky", assert.AnError)
	}
	close(f.ok)
	return nil
}

func TestDeliveryRetriesRetryableFailures(t *testing.T) {
	flaky := &flakyNotifier{failures: 1, ok: make(chan struct{})}
	router := NewRouter([]Notifier{flaky}, time.Second, logger.NewTestLogger(t))

	router.Raise(context.Background(), testSession(), TriggerTechnicalIssue, "music stopped in drift bar")

	select {
	case <-flaky.ok:
	case <-time.After(2 * time.Second):
		t.Fatal("failed delivery was never retried")
	}
	flaky.mu.Lock()
	defer flaky.mu.Unlock()
	assert.Equal(t, 2, flaky.calls)
}

func TestWebhookNotifierPostsCard(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, httpx.NewClient(2*time.Second))
	req := &models.EscalationRequest{
		ID:        "esc-1",
		VenueName: "Hilton Pattaya",
		ZoneName:  "Drift Bar",
		CallerID:  "whatsapp:+66812345678",
		Channel:   "whatsapp",
		Category:  models.CategoryTechnical,
		Priority:  models.PriorityHigh,
		Summary:   "music stopped during dinner service",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, notifier.Notify(context.Background(), req))

	cards, ok := received["cards"].([]interface{})
	require.True(t, ok)
	require.Len(t, cards, 1)
	header := cards[0].(map[string]interface{})["header"].(map[string]interface{})
	assert.Contains(t, header["title"], "Hilton Pattaya")
	assert.Contains(t, header["subtitle"], "high")
}

func TestWebhookNotifierRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewWebhookNotifier(srv.URL, httpx.NewClient(2*time.Second))
	err := notifier.Notify(context.Background(), &models.EscalationRequest{ID: "esc-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOTIFICATION_SEND_FAILED")
}

func TestSMSNotifierRespectsPriorityThreshold(t *testing.T) {
	// Below the threshold the notifier does nothing at all, so a nil SNS
	// client is never touched.
	notifier := NewSMSNotifier(nil, []string{"+66900000001"}, models.PriorityHigh)

	err := notifier.Notify(context.Background(), &models.EscalationRequest{
		Priority: models.PriorityMedium,
	})
	assert.NoError(t, err)
}

func TestSummarizeTruncatesLongMessages(t *testing.T) {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	got := summarize(string(long))
	assert.Len(t, got, maxSummaryLen)
	assert.Equal(t, "...", got[len(got)-3:])
}
