package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"queueline/internal/config"
	"queueline/internal/domain"
	"queueline/internal/engine"
)

const (
	webhookPollEvery = 2 * time.Second
	webhookTimeout   = 5 * time.Second
	webhookPageSize  = 100
)

// subscriber is one configured hook and the id of the last event it has seen.
// A nil cursor means the hook has not been primed yet.
type subscriber struct {
	url    string
	secret string
	topics map[string]bool
	cursor *int64
}

// wants matches exact event types, or every type of an entity kind when a
// topic ends in ".*". No topics means every event.
func (s *subscriber) wants(eventType string) bool {
	if len(s.topics) == 0 || s.topics[eventType] {
		return true
	}
	kind, _, found := strings.Cut(eventType, ".")
	return found && s.topics[kind+".*"]
}

func newSubscriber(hook config.Webhook) *subscriber {
	s := &subscriber{url: strings.TrimSpace(hook.URL), secret: strings.TrimSpace(hook.Secret), topics: map[string]bool{}}
	for _, t := range hook.Events {
		if t = strings.TrimSpace(t); t != "" {
			s.topics[t] = true
		}
	}
	return s
}

// webhookDispatcher polls the history table and posts new events to each
// subscriber in order. Delivery to a subscriber halts at the first failure and
// resumes from the same event on the next poll.
type webhookDispatcher struct {
	engine engine.Engine
	http   *http.Client
	log    *slog.Logger
	subs   []*subscriber
}

func newWebhookDispatcher(e engine.Engine, log *slog.Logger) *webhookDispatcher {
	if e.Config == nil {
		return nil
	}
	d := &webhookDispatcher{engine: e, http: &http.Client{Timeout: webhookTimeout}, log: log}
	for _, hook := range e.Config.Webhooks {
		if s := newSubscriber(hook); s.url != "" {
			d.subs = append(d.subs, s)
		}
	}
	if len(d.subs) == 0 {
		return nil
	}
	return d
}

func startWebhookDispatcher(ctx context.Context, e engine.Engine, log *slog.Logger) {
	d := newWebhookDispatcher(e, log)
	if d == nil {
		return
	}
	go d.run(ctx)
}

// run delivers on every poll until ctx is done.
func (d *webhookDispatcher) run(ctx context.Context) {
	ticker := time.NewTicker(webhookPollEvery)
	defer ticker.Stop()
	d.prime(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliver(ctx)
		}
	}
}

// prime points unprimed subscribers at the newest recorded event so only
// later events are sent.
func (d *webhookDispatcher) prime(ctx context.Context) {
	latest, err := d.engine.Repo.LatestEventID(ctx, d.engine.DB)
	if err != nil {
		d.log.Error("webhook cursor", "error", err)
		return
	}
	for _, s := range d.subs {
		if s.cursor == nil {
			at := latest
			s.cursor = &at
		}
	}
}

func (d *webhookDispatcher) deliver(ctx context.Context) {
	d.prime(ctx)
	for _, s := range d.subs {
		if s.cursor == nil {
			continue
		}
		events, err := d.engine.Repo.EventsAfter(ctx, d.engine.DB, webhookPageSize, *s.cursor)
		if err != nil {
			d.log.Error("webhook events", "error", err)
			return
		}
		for _, evt := range events {
			if s.wants(evt.Type) {
				if err := d.post(ctx, s, evt); err != nil {
					d.log.Warn("webhook delivery", "url", s.url, "event", evt.ID, "error", err)
					break
				}
			}
			*s.cursor = evt.ID
		}
	}
}

type webhookEvent struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func toWebhookEvent(evt domain.Event) webhookEvent {
	out := webhookEvent{
		ID: evt.ID, Type: evt.Type, EntityKind: evt.EntityKind, EntityID: evt.EntityID,
		ActorID: evt.ActorID, TS: evt.TS, Payload: json.RawMessage("{}"),
	}
	if json.Valid([]byte(evt.Payload)) {
		out.Payload = json.RawMessage(evt.Payload)
	}
	return out
}

// signPayload returns the hex HMAC-SHA256 of body under secret.
func signPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *webhookDispatcher) post(ctx context.Context, s *subscriber, evt domain.Event) error {
	body, err := json.Marshal(toWebhookEvent(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Queueline-Event", evt.Type)
	req.Header.Set("X-Queueline-Delivery", strconv.FormatInt(evt.ID, 10))
	if s.secret != "" {
		req.Header.Set("X-Queueline-Signature", "sha256="+signPayload(s.secret, body))
	}
	res, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 == 2 {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s: %s", res.Status, bytes.TrimSpace(snippet))
}
