// Package provider implements the cloud messaging API client. It is the only
// outbound network dependency of the channel router; every call carries a
// bounded timeout so a slow provider cannot stall the sweep of other contacts.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"outreach_backend/internal/accounts"
	"outreach_backend/platform/apperr"
	"outreach_backend/platform/config"
	"outreach_backend/platform/logger"
	"outreach_backend/platform/phone"
)

// MediaKind is the provider payload type for non-text sends.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logger.Logger
}

func NewClient(cfg config.ProviderConfig, log *logger.Logger) *Client {
	timeout := cfg.GetProviderTimeout()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.GetProviderBaseURL(), "/"),
		token:   cfg.GetProviderToken(),
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// SendText delivers a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, acct accounts.Account, to, text string) (string, error) {
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone.WaID(to),
		"type":              "text",
		"text":              map[string]any{"body": text},
	}
	return c.send(ctx, acct, body)
}

// SendMedia delivers an image/video/audio/document message by media reference.
func (c *Client) SendMedia(ctx context.Context, acct accounts.Account, to string, kind MediaKind, mediaRef, caption string) (string, error) {
	media := map[string]any{"link": mediaRef}
	if caption != "" && (kind == MediaImage || kind == MediaVideo || kind == MediaDocument) {
		media["caption"] = caption
	}
	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone.WaID(to),
		"type":              string(kind),
		string(kind):        media,
	}
	return c.send(ctx, acct, body)
}

// SendTemplate delivers a pre-approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, acct accounts.Account, to, name, language string, params []string) (string, error) {
	components := []map[string]any{}
	if len(params) > 0 {
		values := make([]map[string]any, 0, len(params))
		for _, p := range params {
			values = append(values, map[string]any{"type": "text", "text": p})
		}
		components = append(components, map[string]any{
			"type":       "body",
			"parameters": values,
		})
	}

	body := map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone.WaID(to),
		"type":              "template",
		"template": map[string]any{
			"name":       name,
			"language":   map[string]any{"code": language},
			"components": components,
		},
	}
	return c.send(ctx, acct, body)
}

// MessageStatus re-queries the current delivery status of a sent message.
// The block detector uses this to audit sent-but-unconfirmed messages.
func (c *Client) MessageStatus(ctx context.Context, acct accounts.Account, providerMessageID string) (string, error) {
	url := fmt.Sprintf("%s/%s/messages/%s", c.baseURL, acct.PhoneNumberID, providerMessageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.tokenFor(acct))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "provider status query failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return "", apperr.Unavailable(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))))
	}

	var parsed statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	return parsed.Status, nil
}

func (c *Client) send(ctx context.Context, acct accounts.Account, payload map[string]any) (string, error) {
	if !acct.Sendable() {
		return "", apperr.Validation("account is not configured for sending").WithOp("provider.send")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal provider payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, acct.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokenFor(acct))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnavailable, "provider request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return "", apperr.Unavailable(fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	if len(parsed.Messages) == 0 {
		return "", apperr.Unavailable("provider accepted the send but returned no message id")
	}

	return parsed.Messages[0].ID, nil
}

func (c *Client) tokenFor(acct accounts.Account) string {
	if acct.ProviderToken != "" {
		return acct.ProviderToken
	}
	return c.token
}
