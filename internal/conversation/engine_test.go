// internal/conversation/engine_test.go
package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bma-social-bot/internal/ai"
	"bma-social-bot/internal/catalog"
	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/escalation"
	"bma-social-bot/internal/guard"
	"bma-social-bot/internal/models"
	"bma-social-bot/internal/platform"
	"bma-social-bot/internal/resolver"
	"bma-social-bot/internal/session"
)

// --- fakes ---

type fakePlatform struct {
	mu            sync.Mutex
	status        platform.ZoneStatus
	err           error
	statusCalls   []string
	volumeCalls   []int
	controlCalls  []string
	playlistCalls []string
}

func (f *fakePlatform) Status(ctx context.Context, deviceID string) (*platform.ZoneStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, deviceID)
	if f.err != nil {
		return nil, f.err
	}
	s := f.status
	return &s, nil
}

func (f *fakePlatform) SetVolume(ctx context.Context, deviceID string, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumeCalls = append(f.volumeCalls, level)
	return f.err
}

func (f *fakePlatform) Control(ctx context.Context, deviceID, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controlCalls = append(f.controlCalls, command)
	return f.err
}

func (f *fakePlatform) SetPlaylist(ctx context.Context, deviceID, playlist string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlistCalls = append(f.playlistCalls, playlist)
	return f.err
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Reply(ctx context.Context, req *ai.ReplyRequest) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type spyNotifier struct {
	mu  sync.Mutex
	got []*models.EscalationRequest
}

func (s *spyNotifier) Name() string { return "spy" }

func (s *spyNotifier) Notify(ctx context.Context, req *models.EscalationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, req)
	return nil
}

func (s *spyNotifier) waitFor(t *testing.T, n int) []*models.EscalationRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		count := len(s.got)
		out := append([]*models.EscalationRequest(nil), s.got...)
		s.mu.Unlock()
		if count >= n {
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d escalations, saw %d", n, count)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (s *spyNotifier) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

// --- fixture ---

type fixture struct {
	engine   *Engine
	platform *fakePlatform
	gen      *fakeGenerator
	notifier *spyNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := catalog.New()
	require.NoError(t, cat.LoadAll([]models.Venue{
		{
			Name:          "Hilton Pattaya",
			Aliases:       []string{"hilton pattaya"},
			AnnualPrice:   10500,
			Currency:      "THB",
			ContractEnd:   time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			ContractStart: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Contacts:      []models.Contact{{Name: "Anan Chaiyaporn", Title: "GM"}},
			Zones: []models.Zone{
				{Name: "Edge", DeviceID: "dev-edge", Online: true, Controllable: true},
				{Name: "Drift Bar", DeviceID: "dev-drift", Online: true, Controllable: true},
			},
		},
		{
			Name:    "Hilton Bangkok",
			Aliases: []string{"hilton bangkok"},
			Zones:   []models.Zone{{Name: "Lobby", DeviceID: "dev-bkk", Online: true, Controllable: true}},
		},
		{
			Name:    "Mana Beach Club",
			Aliases: []string{"mana beach club", "mana"},
			Zones:   []models.Zone{{Name: "Pool", DeviceID: "dev-pool", Online: true, Controllable: true}},
		},
	}))

	log := logger.NewTestLogger(t)
	res := resolver.New(resolver.Config{
		AutoAcceptThreshold: 0.9,
		CandidateFloor:      0.3,
		DisambiguationGap:   0.15,
		SignificantTokenLen: 4,
		GenericWords:        []string{"hotel", "the", "venue", "help", "music", "hi", "hello", "please"},
		MaxCandidates:       5,
	}, cat, log)

	sessions := session.NewStore(config.SessionConfig{
		HistoryWindow: 20,
		InactivityTTL: 60,
		TrustWindow:   30,
	}, nil, log)

	notifier := &spyNotifier{}
	router := escalation.NewRouter([]escalation.Notifier{notifier}, time.Second, log)

	fp := &fakePlatform{status: platform.ZoneStatus{
		Online:    true,
		Playing:   true,
		Volume:    9,
		TrackName: "Summer Haze",
	}}
	gen := &fakeGenerator{reply: "Happy to help! Anything else about your music?"}

	engine := NewEngine(config.ConversationConfig{
		TurnBudget:             5000,
		MaxIdentifyAttempts:    3,
		MaxDisambiguationShown: 3,
	}, Dependencies{
		Catalog:     cat,
		Resolver:    res,
		Sessions:    sessions,
		Guard:       guard.New(config.GuardConfig{DenylistEntities: []string{"Bright Ears"}}, log),
		Escalations: router,
		Generator:   gen,
		Platform:    fp,
		Logger:      log,
	})

	return &fixture{engine: engine, platform: fp, gen: gen, notifier: notifier}
}

func (f *fixture) turn(text string) string {
	return f.engine.HandleTurn(context.Background(), &TurnInput{
		CallerID:    "whatsapp:+66812345678",
		Text:        text,
		Channel:     "whatsapp",
		DisplayName: "Khun Siri",
	})
}

// --- tests ---

func TestIdentifyAndStatusQuery(t *testing.T) {
	f := newFixture(t)

	reply := f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	assert.Contains(t, reply, "Edge")
	assert.Contains(t, reply, "Summer Haze")
	require.Len(t, f.platform.statusCalls, 1)
	assert.Equal(t, "dev-edge", f.platform.statusCalls[0])
}

func TestStickyContextAcrossTurns(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	reply := f.turn("what's playing now?")

	assert.Contains(t, reply, "Edge")
	require.Len(t, f.platform.statusCalls, 2)
	assert.Equal(t, "dev-edge", f.platform.statusCalls[1])
}

func TestDisambiguationNumberedReply(t *testing.T) {
	f := newFixture(t)

	reply := f.turn("Hi, I'm calling from the Hilton, music is down")
	assert.Contains(t, reply, "1.")
	assert.Contains(t, reply, "Hilton Pattaya")
	assert.Contains(t, reply, "Hilton Bangkok")

	reply = f.turn("1")
	assert.Contains(t, reply, "Got it")
}

func TestDisambiguationNameReply(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm calling from the Hilton, music is down")
	reply := f.turn("the pattaya one")
	assert.Contains(t, reply, "Hilton Pattaya")
	assert.Contains(t, reply, "Got it")
}

func TestDisambiguationZeroAsksAgain(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm calling from the Hilton, music is down")
	reply := f.turn("0")
	assert.Contains(t, reply, "venue name")
}

func TestVenueUnknownNeverDiscloses(t *testing.T) {
	f := newFixture(t)

	reply := f.turn("how much are we paying?")
	assert.Contains(t, reply, "Which venue")
	assert.NotContains(t, reply, "10,500")
	assert.NotContains(t, reply, "THB")
}

func TestSensitiveQueryVerificationPass(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	reply := f.turn("how much are we paying?")
	assert.Contains(t, reply, "contact person")
	assert.NotContains(t, reply, "10,500")

	reply = f.turn("That would be Anan")
	assert.Contains(t, reply, "THB 10,500")
	assert.Equal(t, 0, f.notifier.count())
}

func TestSensitiveQueryVerificationFail(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	f.turn("how much are we paying?")
	reply := f.turn("I think it's John Smith")

	assert.NotContains(t, reply, "10,500")
	assert.Contains(t, reply, "team")

	escalations := f.notifier.waitFor(t, 1)
	assert.Equal(t, models.CategoryVerification, escalations[0].Category)
	assert.Equal(t, models.PriorityMedium, escalations[0].Priority)
}

func TestTrustedCallerSkipsVerification(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	f.turn("how much are we paying?")
	f.turn("Anan")

	// Trust window is open; the next sensitive question is answered
	// without a challenge.
	reply := f.turn("and when does the contract renew?")
	assert.Contains(t, reply, "February 28, 2026")
}

func TestGuardReplacesFabricatedReply(t *testing.T) {
	f := newFixture(t)
	f.gen.reply = "Our standard plan is just $179 per month!"

	f.turn("hello from hilton pattaya")
	reply := f.turn("tell me about your service")

	assert.NotContains(t, reply, "$179")
	assert.Contains(t, reply, "team")
	escalations := f.notifier.waitFor(t, 1)
	assert.Equal(t, models.CategoryGeneral, escalations[0].Category)
}

func TestVolumeDownUsesCurrentLevel(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	reply := f.turn("it's too loud, turn it down")

	assert.Contains(t, reply, "7")
	require.Len(t, f.platform.volumeCalls, 1)
	assert.Equal(t, 7, f.platform.volumeCalls[0])
}

func TestVolumeSetOutOfRange(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	reply := f.turn("set the volume to 50")

	assert.Contains(t, reply, "0 to 16")
	assert.Empty(t, f.platform.volumeCalls)
}

func TestPlaylistChangeNeedsConfirmation(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	reply := f.turn("change the playlist to Chill Vibes")
	assert.Contains(t, reply, "Chill Vibes")
	assert.Contains(t, reply, "yes/no")
	assert.Empty(t, f.platform.playlistCalls)

	reply = f.turn("yes please")
	assert.Contains(t, reply, "Chill Vibes")
	require.Len(t, f.platform.playlistCalls, 1)
	assert.Equal(t, "Chill Vibes", f.platform.playlistCalls[0])
}

func TestPlaylistChangeDeclined(t *testing.T) {
	f := newFixture(t)

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	f.turn("change the playlist to Deep House")
	reply := f.turn("no, leave it")

	assert.Contains(t, reply, "won't change anything")
	assert.Empty(t, f.platform.playlistCalls)
}

func TestPlatformOutageIsHonest(t *testing.T) {
	f := newFixture(t)
	f.platform.err = commonerrors.NewPlatformUnavailableError(assert.AnError)

	f.turn("hello from hilton pattaya")
	reply := f.turn("what's playing at Edge?")

	assert.Contains(t, reply, "can't reach")
	escalations := f.notifier.waitFor(t, 1)
	assert.Equal(t, models.CategoryTechnical, escalations[0].Category)
}

func TestPermissionDeniedIsExplained(t *testing.T) {
	f := newFixture(t)
	f.platform.err = commonerrors.NewPlatformPermissionDeniedError("dev-edge", "skip")

	f.turn("Hi, I'm from Hilton Pattaya, what's playing at Edge?")
	f.platform.err = commonerrors.NewPlatformPermissionDeniedError("dev-edge", "skip")
	reply := f.turn("skip this song")

	assert.Contains(t, reply, "doesn't support remote control")
	assert.Equal(t, 0, f.notifier.count())
}

func TestTechnicalIssueEscalates(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	reply := f.turn("the music stopped in drift bar an hour ago!")

	assert.Contains(t, reply, "technical team")
	escalations := f.notifier.waitFor(t, 1)
	assert.Equal(t, models.CategoryTechnical, escalations[0].Category)
	assert.Equal(t, "Hilton Pattaya", escalations[0].VenueName)
}

func TestGenerationFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.gen.err = commonerrors.NewGenerationUnavailableError(assert.AnError)

	f.turn("hello from hilton pattaya")
	reply := f.turn("tell me something nice")

	assert.Contains(t, reply, "team")
	f.notifier.waitFor(t, 1)
}

func TestRestartClearsContext(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	reply := f.turn("actually, wrong venue, let's start over")
	assert.Contains(t, reply, "start fresh")

	reply = f.turn("how much are we paying?")
	assert.Contains(t, reply, "Which venue")
}

func TestIdentifyGiveUpEscalates(t *testing.T) {
	f := newFixture(t)

	f.turn("good morning")
	f.turn("it's the place with the nice music")
	reply := f.turn("you know the one")

	assert.Contains(t, reply, "team")
	escalations := f.notifier.waitFor(t, 1)
	assert.Equal(t, models.CategoryGeneral, escalations[0].Category)
	assert.Equal(t, models.PriorityLow, escalations[0].Priority)
}

func TestSingleZoneVenueSkipsZonePrompt(t *testing.T) {
	f := newFixture(t)

	f.turn("hi from mana")
	reply := f.turn("pause the music")

	assert.Contains(t, reply, "Pool")
	require.Len(t, f.platform.controlCalls, 1)
	assert.Equal(t, platform.CommandPause, f.platform.controlCalls[0])
}

func TestMultiZoneVenueAsksForZone(t *testing.T) {
	f := newFixture(t)

	f.turn("hello from hilton pattaya")
	reply := f.turn("pause the music")

	assert.Contains(t, reply, "Which zone")
	assert.Contains(t, reply, "Edge")
	assert.Contains(t, reply, "Drift Bar")
	assert.Empty(t, f.platform.controlCalls)
}
