package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/SeanDreamHsu/shorts-counter/internal/history"
	"github.com/SeanDreamHsu/shorts-counter/internal/insights"
	"github.com/SeanDreamHsu/shorts-counter/internal/models"
	"github.com/SeanDreamHsu/shorts-counter/internal/tracker"
)

// APIError is a failed request as reported by the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Client talks to the tracking server's REST API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates an API client for the server at base (e.g. http://localhost:8080).
func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// raw performs a request and returns status and body.
func (c *Client) raw(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// call performs an enveloped request and decodes data into out (nil skips decoding).
func (c *Client) call(ctx context.Context, method, path string, body []byte, out any) error {
	status, raw, err := c.raw(ctx, method, path, body)
	if err != nil {
		return err
	}
	if status == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
	}
	if status >= 300 || !env.Success {
		return &APIError{Status: status, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Status fetches today's totals and the live session.
func (c *Client) Status(ctx context.Context) (models.RealtimeStatus, error) {
	var out models.RealtimeStatus
	err := c.call(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// History lists finalized sessions, newest first.
func (c *Client) History(ctx context.Context, platform models.Platform) ([]models.HistoricalSession, error) {
	var out struct {
		Sessions []models.HistoricalSession `json:"sessions"`
	}
	err := c.call(ctx, http.MethodGet, withPlatform("/history", platform), nil, &out)
	return out.Sessions, err
}

// Export returns the export document as served.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	status, raw, err := c.raw(ctx, http.MethodGet, "/history/export", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		var env envelope
		_ = sonic.Unmarshal(raw, &env)
		return nil, &APIError{Status: status, Message: env.Error}
	}
	return raw, nil
}

// Import uploads an export document and reports what was merged.
func (c *Client) Import(ctx context.Context, doc []byte) (history.ImportResult, error) {
	var out history.ImportResult
	err := c.call(ctx, http.MethodPost, "/history/import", doc, &out)
	return out, err
}

// Week fetches the seven-day trend, oldest day first.
func (c *Client) Week(ctx context.Context, platform models.Platform) ([]insights.DayBucket, error) {
	var out struct {
		Days []insights.DayBucket `json:"days"`
	}
	err := c.call(ctx, http.MethodGet, withPlatform("/insights/week", platform), nil, &out)
	return out.Days, err
}

// Pause sends an INACTIVE signal for platform, the same message a detector sends when
// playback stops.
func (c *Client) Pause(ctx context.Context, platform models.Platform) (tracker.SignalResult, error) {
	body, err := sonic.Marshal(tracker.Message{Type: tracker.MsgStateUpdate, Status: models.StatusInactive, Platform: platform})
	if err != nil {
		return tracker.SignalResult{}, err
	}
	status, raw, err := c.raw(ctx, http.MethodPost, "/messages", body)
	if err != nil {
		return tracker.SignalResult{}, err
	}
	var res tracker.SignalResult
	if err := sonic.Unmarshal(raw, &res); err != nil {
		return tracker.SignalResult{}, fmt.Errorf("decode response: %w", err)
	}
	if status != http.StatusOK || !res.Success {
		return res, &APIError{Status: status, Message: "signal rejected"}
	}
	return res, nil
}

func withPlatform(path string, p models.Platform) string {
	if p == "" {
		return path
	}
	return path + "?platform=" + url.QueryEscape(string(p))
}
