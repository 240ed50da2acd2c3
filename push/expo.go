// Package push delivers order notifications through the Expo push API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

// Message is one Expo push request.
type Message struct {
	To    string         `json:"to"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
	Sound string         `json:"sound,omitempty"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type ExpoConfig struct {
	URL         string
	AccessToken string
	HTTPClient  *http.Client
}

type ExpoClient struct {
	url         string
	accessToken string
	http        *http.Client
}

func NewExpoClient(cfg ExpoConfig) *ExpoClient {
	if cfg.URL == "" {
		cfg.URL = DefaultExpoURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &ExpoClient{url: cfg.URL, accessToken: cfg.AccessToken, http: cfg.HTTPClient}
}

// Ticket is the per-message result Expo returns.
type Ticket struct {
	Status  string         `json:"status"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type sendResponse struct {
	Data   Ticket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *ExpoClient) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode push message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read push response: %w", err)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("push: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if len(out.Errors) > 0 {
		return fmt.Errorf("push: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("push: status %d", resp.StatusCode)
	}
	if out.Data.Status == "error" {
		return fmt.Errorf("push rejected: %s", out.Data.Message)
	}
	return nil
}
