// Package api exposes the webhook, the operator HTTP surface, and the MCP
// server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	maxWebhookBodySize = 1 << 20 // 1MB
	eventTimeout       = 60 * time.Second
)

// EventHandler processes one inbound message and returns the reply text.
type EventHandler interface {
	HandleEvent(ctx context.Context, senderID, text string) string
}

// Sender delivers a reply back to the customer.
type Sender interface {
	Send(ctx context.Context, recipientID, text string) error
}

// WebhookDeps holds dependencies for the Instagram webhook endpoints.
type WebhookDeps struct {
	Handler     EventHandler
	Sender      Sender
	VerifyToken string
	BotID       string // the shop account's own id; echoes from it are skipped
}

// NewWebhookHandler builds the unauthenticated webhook router. GET serves
// the platform's subscription handshake; POST receives message events.
func NewWebhookHandler(deps WebhookDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/webhook", handleVerify(deps))
	r.Post("/webhook", handleEvents(deps))
	return r
}

func handleVerify(deps WebhookDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == deps.VerifyToken {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, q.Get("hub.challenge"))
			return
		}
		slog.Warn("webhook verification rejected", "mode", q.Get("hub.mode"))
		httpError(w, http.StatusForbidden, "verification_error", "verify token mismatch")
	}
}

type webhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
}

// handleEvents acknowledges the platform immediately and processes each
// message event on its own goroutine. Per-sender ordering is enforced
// downstream by the orchestrator's sender locks.
func handleEvents(deps WebhookDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
		defer r.Body.Close()

		var payload webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		for _, entry := range payload.Entry {
			for _, ev := range entry.Messaging {
				if ev.Sender.ID == "" || ev.Sender.ID == deps.BotID || ev.Message.IsEcho {
					continue
				}
				if ev.Message.Text == "" {
					slog.Debug("skipping non-text event", "sender_id", ev.Sender.ID)
					continue
				}
				go processEvent(deps, ev.Sender.ID, ev.Message.Text)
			}
		}

		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "EVENT_RECEIVED")
	}
}

func processEvent(deps WebhookDeps, senderID, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	reply := deps.Handler.HandleEvent(ctx, senderID, text)
	if err := deps.Sender.Send(ctx, senderID, reply); err != nil {
		slog.Error("sending reply failed", "sender_id", senderID, "error", err)
	}
}
