// Package whatsapp is a client for the WhatsApp Business Cloud API: outbound
// messages, media download, and token diagnostics.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"voicebot/internal/domain"
)

const (
	defaultAPIBase    = "https://graph.facebook.com"
	defaultAPIVersion = "v21.0"
	sendTimeout       = 30 * time.Second
	mediaTimeout      = 120 * time.Second
)

// Client talks to the Graph API for one phone number.
type Client struct {
	apiBase       string
	apiVersion    string
	accessToken   string
	phoneNumberID string
	appID         string
	appSecret     string
	sendClient    *http.Client
	mediaClient   *http.Client
	logger        *slog.Logger
}

type Config struct {
	APIBase       string // overridable for tests
	APIVersion    string
	AccessToken   string
	PhoneNumberID string
	AppID         string
	AppSecret     string
	Logger        *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultAPIBase
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiBase:       cfg.APIBase,
		apiVersion:    cfg.APIVersion,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		appID:         cfg.AppID,
		appSecret:     cfg.AppSecret,
		sendClient:    &http.Client{Timeout: sendTimeout},
		mediaClient:   &http.Client{Timeout: mediaTimeout},
		logger:        cfg.Logger,
	}
}

func (c *Client) graphBase() string {
	return c.apiBase + "/" + c.apiVersion
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/messages", c.graphBase(), c.phoneNumberID)
}

// SendText delivers a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	return c.sendMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

// SendAudioByURL delivers an audio message by reference. The Cloud API
// fetches the link itself, so it must be publicly reachable.
func (c *Client) SendAudioByURL(ctx context.Context, to, mediaURL string) error {
	return c.sendMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "audio",
		"audio":             map[string]string{"link": mediaURL},
	})
}

func (c *Client) sendMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.sendClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return upstream(resp)
	}
	return nil
}

// DownloadMedia resolves a media id into raw bytes plus the content type
// the metadata reports. The Graph API makes this a two-step dance: fetch
// the media metadata, then fetch the short-lived URL it points at, with
// the bearer token on both requests.
func (c *Client) DownloadMedia(ctx context.Context, mediaID string) ([]byte, string, error) {
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("%s/%s", c.graphBase(), url.PathEscape(mediaID)), &meta); err != nil {
		return nil, "", err
	}
	if meta.URL == "" {
		return nil, "", fmt.Errorf("media %s: metadata missing url", mediaID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("whatsapp media download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", upstream(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read media body: %w", err)
	}
	c.logger.Info("media downloaded", "media_id", mediaID, "bytes", len(data), "mime", meta.MimeType)
	return data, meta.MimeType, nil
}

// DebugToken asks the Graph API what it thinks about the configured access
// token. Requires app id and secret.
func (c *Client) DebugToken(ctx context.Context) (map[string]any, error) {
	if c.appID == "" || c.appSecret == "" {
		return nil, fmt.Errorf("debug token requires app id and app secret")
	}

	q := url.Values{}
	q.Set("input_token", c.accessToken)
	q.Set("access_token", c.appID+"|"+c.appSecret)

	var report map[string]any
	if err := c.getJSON(ctx, c.graphBase()+"/debug_token?"+q.Encode(), &report); err != nil {
		return nil, err
	}
	return report, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.mediaClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return upstream(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func upstream(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &domain.UpstreamError{
		Service:    "whatsapp",
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
