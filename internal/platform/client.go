// internal/platform/client.go
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"bma-social-bot/internal/common/config"
	commonerrors "bma-social-bot/internal/common/errors"
	"bma-social-bot/internal/common/logger"
)

// Control commands accepted by playback devices.
const (
	CommandPlay  = "play"
	CommandPause = "pause"
	CommandSkip  = "skip"
)

const (
	MinVolume = 0
	MaxVolume = 16
)

// ZoneStatus is the live playback state of one zone device.
type ZoneStatus struct {
	DeviceID    string `json:"deviceId"`
	Online      bool   `json:"online"`
	Playing     bool   `json:"playing"`
	Volume      int    `json:"volume"`
	TrackName   string `json:"trackName,omitempty"`
	ArtistName  string `json:"artistName,omitempty"`
	PlaylistName string `json:"playlistName,omitempty"`
}

// Client calls the music platform's zone-control API. All calls are rate
// limited client-side; the platform throttles hard beyond a few requests
// per second and returns opaque 429s.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

func NewClient(cfg config.APIsConfig, log logger.Logger) *Client {
	sc := cfg.Soundtrack
	return &Client{
		baseURL: sc.BaseURL,
		apiKey:  sc.APIKey,
		httpClient: &http.Client{
			Timeout: config.GetDuration(sc.Timeout),
		},
		limiter: rate.NewLimiter(rate.Limit(sc.RequestsPerSec), sc.Burst),
		logger:  log.With(map[string]interface{}{"component": "platform_client"}),
	}
}

// Status fetches the live state of a zone device.
func (c *Client) Status(ctx context.Context, deviceID string) (*ZoneStatus, error) {
	var status ZoneStatus
	if err := c.do(ctx, http.MethodGet, "/v1/zones/"+deviceID, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// SetVolume sets the zone volume on the platform's 0..16 scale.
func (c *Client) SetVolume(ctx context.Context, deviceID string, level int) error {
	if level < MinVolume || level > MaxVolume {
		return commonerrors.NewPlatformPermissionDeniedError(deviceID,
			fmt.Sprintf("volume %d out of range %d..%d", level, MinVolume, MaxVolume))
	}
	body := map[string]interface{}{"volume": level}
	return c.do(ctx, http.MethodPut, "/v1/zones/"+deviceID+"/volume", body, nil)
}

// Control issues a playback command: play, pause, or skip.
func (c *Client) Control(ctx context.Context, deviceID, command string) error {
	switch command {
	case CommandPlay, CommandPause, CommandSkip:
	default:
		return commonerrors.NewPlatformPermissionDeniedError(deviceID, "unknown command "+command)
	}
	body := map[string]interface{}{"command": command}
	return c.do(ctx, http.MethodPost, "/v1/zones/"+deviceID+"/playback", body, nil)
}

// SetPlaylist switches the zone to a named playlist from the venue's
// assigned schedule.
func (c *Client) SetPlaylist(ctx context.Context, deviceID, playlist string) error {
	body := map[string]interface{}{"playlist": playlist}
	return c.do(ctx, http.MethodPut, "/v1/zones/"+deviceID+"/playlist", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return commonerrors.NewPlatformUnavailableError(err)
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return commonerrors.NewPlatformUnavailableError(err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return commonerrors.NewPlatformUnavailableError(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return commonerrors.NewPlatformUnavailableError(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("platform call", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	switch {
	case resp.StatusCode == http.StatusForbidden:
		// The device class cannot execute this control. Permanent for the
		// zone; never retried.
		return commonerrors.NewPlatformPermissionDeniedError(path, method)
	case resp.StatusCode == http.StatusNotFound:
		return commonerrors.NewPlatformUnavailableError(fmt.Errorf("device not found: %s", path))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return commonerrors.NewPlatformUnavailableError(fmt.Errorf("platform returned status %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return commonerrors.NewPlatformUnavailableError(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
