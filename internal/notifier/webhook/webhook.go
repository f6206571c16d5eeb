// Package webhook implements an HTTP webhook notifier.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/openquant/crucible/internal/notifier"
)

const defaultTimeout = 30 * time.Second

// Webhook POSTs run events as JSON to a configured URL.
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// New creates a webhook notifier. The name keys it in the registry so
// several webhooks can point at different endpoints.
func New(name, url string, headers map[string]string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook %s: url is required", name)
	}
	if name == "" {
		name = "webhook"
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webhook{
		name:    name,
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (w *Webhook) Name() string { return w.name }

// Send delivers a run event.
func (w *Webhook) Send(ctx context.Context, ev notifier.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("webhook: failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: server returned %d", resp.StatusCode)
	}

	return nil
}
