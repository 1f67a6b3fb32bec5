// Package notify posts operator alerts to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/segmentio/encoding/json"
	log "github.com/sirupsen/logrus"

	"github.com/bcrosbie/evalboard/internal/redact"
)

// Notifier delivers a plain-text alert.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type textMessage struct {
	MsgType string      `json:"msg_type"`
	Content textContent `json:"content"`
}

type textContent struct {
	Text string `json:"text"`
}

type webhookReply struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Webhook sends Feishu-style text messages. A Webhook without a URL drops
// every message.
type Webhook struct {
	url      string
	client   *http.Client
	redactor *redact.Redactor
	attempts uint
	delay    time.Duration
}

type Option func(*Webhook)

func WithHTTPClient(client *http.Client) Option {
	return func(w *Webhook) {
		if client != nil {
			w.client = client
		}
	}
}

func WithRetry(attempts uint, delay time.Duration) Option {
	return func(w *Webhook) {
		if attempts > 0 {
			w.attempts = attempts
		}
		w.delay = delay
	}
}

func NewWebhook(url string, redactor *redact.Redactor, opts ...Option) *Webhook {
	w := &Webhook{
		url:      strings.TrimSpace(url),
		client:   &http.Client{Timeout: 10 * time.Second},
		redactor: redactor,
		attempts: 3,
		delay:    time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Enabled() bool {
	return w != nil && w.url != ""
}

func (w *Webhook) Notify(ctx context.Context, text string) error {
	if !w.Enabled() {
		log.WithField("alert", w.redactor.Apply(text)).Debug("alert webhook disabled; dropping message")
		return nil
	}
	body, err := json.Marshal(textMessage{
		MsgType: "text",
		Content: textContent{Text: w.redactor.Apply(text)},
	})
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	return retry.Do(
		func() error { return w.post(ctx, body) },
		retry.Attempts(w.attempts),
		retry.Delay(w.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).WithField("attempt", n+1).Warn("alert webhook failed; retrying")
		}),
	)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post alert: %s", w.redactor.Apply(err.Error()))
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}
	var reply webhookReply
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &reply) == nil && reply.Code != 0 {
		return fmt.Errorf("alert webhook rejected message: code %d: %s", reply.Code, reply.Msg)
	}
	return nil
}
