// internal/platform/client_test.go
package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.APIsConfig{}
	cfg.Soundtrack.BaseURL = srv.URL
	cfg.Soundtrack.APIKey = "test-key"
	cfg.Soundtrack.Timeout = 2000
	cfg.Soundtrack.RequestsPerSec = 100
	cfg.Soundtrack.Burst = 10

	return NewClient(cfg, logger.NewTestLogger(t)), srv
}

func TestStatus(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/zones/dev-1", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(ZoneStatus{
			DeviceID: "dev-1",
			Online:   true,
			Playing:  true,
			Volume:   9,
		})
	}))

	status, err := client.Status(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.True(t, status.Playing)
	assert.Equal(t, 9, status.Volume)
}

func TestSetVolume(t *testing.T) {
	var gotBody map[string]interface{}
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/zones/dev-1/volume", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.SetVolume(context.Background(), "dev-1", 11))
	assert.Equal(t, float64(11), gotBody["volume"])
}

func TestSetVolumeRange(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("out-of-range volume must not reach the platform")
	}))

	for _, level := range []int{-1, 17, 100} {
		err := client.SetVolume(context.Background(), "dev-1", level)
		require.Error(t, err)
		var stdErr *commonerrors.StandardError
		require.ErrorAs(t, err, &stdErr)
		assert.Equal(t, commonerrors.ErrCodePlatformPermissionDenied, stdErr.Code)
	}
}

func TestControlCommands(t *testing.T) {
	var gotCommand string
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		gotCommand, _ = body["command"].(string)
		w.WriteHeader(http.StatusOK)
	}))

	for _, command := range []string{CommandPlay, CommandPause, CommandSkip} {
		require.NoError(t, client.Control(context.Background(), "dev-1", command))
		assert.Equal(t, command, gotCommand)
	}

	err := client.Control(context.Background(), "dev-1", "rewind")
	require.Error(t, err)
	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodePlatformPermissionDenied, stdErr.Code)
}

func TestForbiddenMapsToPermissionDenied(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	err := client.Control(context.Background(), "dev-1", CommandSkip)
	require.Error(t, err)
	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodePlatformPermissionDenied, stdErr.Code)
	assert.False(t, stdErr.Retryable)
}

func TestServerErrorMapsToUnavailable(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.Status(context.Background(), "dev-1")
	require.Error(t, err)
	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodePlatformUnavailable, stdErr.Code)
	assert.True(t, stdErr.Retryable)
}

func TestUnreachablePlatform(t *testing.T) {
	client, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := client.Status(context.Background(), "dev-1")
	require.Error(t, err)
	var stdErr *commonerrors.StandardError
	require.ErrorAs(t, err, &stdErr)
	assert.Equal(t, commonerrors.ErrCodePlatformUnavailable, stdErr.Code)
}

func TestSetPlaylist(t *testing.T) {
	var gotBody map[string]interface{}
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/zones/dev-1/playlist", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.SetPlaylist(context.Background(), "dev-1", "Chill Vibes"))
	assert.Equal(t, "Chill Vibes", gotBody["playlist"])
}
