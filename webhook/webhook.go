// Package webhook delivers signed tab and pool lifecycle events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event types.
const (
	EventTabOpened     = "tab.opened"
	EventTabClosed     = "tab.closed"
	EventTabHibernated = "tab.hibernated"
	EventTabWoken      = "tab.woken"
	EventTabRestored   = "tab.restored"
	EventPoolPressure  = "pool.pressure"
)

// SignatureHeader carries "sha256=<hex>" of the request body.
const SignatureHeader = "X-Tabhost-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	TabID     string `json:"tab_id,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewEvent stamps an event with the current Unix time in milliseconds.
func NewEvent(typ, tabID string, data any) *Event {
	return &Event{Type: typ, TabID: tabID, Timestamp: time.Now().UnixMilli(), Data: data}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
func Deliver(ctx context.Context, client *http.Client, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tabhost-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, "sha256="+Sign(secret, body))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Notifier delivers events to one endpoint in the background. A nil
// *Notifier or one with an empty URL drops every event.
type Notifier struct {
	url    string
	secret string
	client *http.Client
	delays []time.Duration

	wg sync.WaitGroup
}

// DefaultRetryDelays are the waits before each delivery attempt.
var DefaultRetryDelays = []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}

// NewNotifier creates a Notifier. A nil delays uses DefaultRetryDelays.
func NewNotifier(url, secret string, delays []time.Duration) *Notifier {
	if delays == nil {
		delays = DefaultRetryDelays
	}
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		delays: delays,
	}
}

// Enabled reports whether events are delivered anywhere.
func (n *Notifier) Enabled() bool {
	return n != nil && n.url != ""
}

// Notify delivers event asynchronously, retrying once per configured delay.
func (n *Notifier) Notify(event *Event) {
	if !n.Enabled() {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for attempt, delay := range n.delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := Deliver(ctx, n.client, n.url, n.secret, event)
			cancel()
			if err == nil {
				slog.Debug("webhook delivered",
					"event", event.Type,
					"tab_id", event.TabID,
					"attempt", attempt+1,
				)
				return
			}
			slog.Warn("webhook delivery failed",
				"url", n.url,
				"event", event.Type,
				"tab_id", event.TabID,
				"attempt", attempt+1,
				"error", err,
			)
		}
		slog.Error("webhook delivery exhausted all retries",
			"url", n.url,
			"event", event.Type,
			"tab_id", event.TabID,
		)
	}()
}

// Wait blocks until every pending delivery has finished or given up.
func (n *Notifier) Wait() {
	if n != nil {
		n.wg.Wait()
	}
}
