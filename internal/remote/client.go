package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the media server's REST API.
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	logger   zerolog.Logger
}

func NewClient(baseURL, token, deviceID string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "remote").Logger(),
	}
}

func (c *Client) Item(ctx context.Context, itemID string) (*Item, error) {
	var item Item
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/items/%s", itemID), nil, &item); err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}
	return &item, nil
}

func (c *Client) DescribeSources(ctx context.Context, itemID string) ([]SourceDescriptor, error) {
	var resp struct {
		Sources []SourceDescriptor `json:"sources"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/items/%s/sources", itemID), nil, &resp); err != nil {
		return nil, fmt.Errorf("describe sources for %s: %w", itemID, err)
	}
	return resp.Sources, nil
}

func (c *Client) MintStreamURL(ctx context.Context, itemID, sourceID string) (string, error) {
	var resp struct {
		URL string `json:"url"`
	}
	path := fmt.Sprintf("/api/items/%s/sources/%s/stream", itemID, sourceID)
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return "", fmt.Errorf("mint stream url for %s/%s: %w", itemID, sourceID, err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("mint stream url for %s/%s: empty url in response", itemID, sourceID)
	}
	return resp.URL, nil
}

func (c *Client) ReportPlaybackStart(ctx context.Context, itemID string) error {
	body := map[string]any{"item_id": itemID}
	return c.doJSON(ctx, http.MethodPost, "/api/playback/start", body, nil)
}

func (c *Client) ReportPlaybackProgress(ctx context.Context, itemID string, positionTicks int64, paused bool) error {
	body := map[string]any{
		"item_id":        itemID,
		"position_ticks": positionTicks,
		"paused":         paused,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/playback/progress", body, nil)
}

func (c *Client) ReportPlaybackStop(ctx context.Context, itemID string, positionTicks int64) error {
	body := map[string]any{
		"item_id":        itemID,
		"position_ticks": positionTicks,
	}
	return c.doJSON(ctx, http.MethodPost, "/api/playback/stop", body, nil)
}

func (c *Client) TrickplayTile(ctx context.Context, itemID string, width, index int) ([]byte, error) {
	path := fmt.Sprintf("/api/items/%s/trickplay/%d/%d", itemID, width, index)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trickplay tile %s/%d/%d: %w", itemID, width, index, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch trickplay tile %s/%d/%d: status %d", itemID, width, index, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a little of the body for the log, servers often explain.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status", resp.StatusCode).
			Msg("request failed")
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}
	req.Header.Set("Accept", "application/json")
}
