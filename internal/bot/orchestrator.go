// Package bot drives the per-sender conversation state machine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bakirov/instashop/internal/cart"
	"github.com/bakirov/instashop/internal/intent"
	"github.com/bakirov/instashop/internal/respond"
	"github.com/bakirov/instashop/internal/storage"
)

const (
	// minAddressLen is the minimum trimmed address length, in runes.
	minAddressLen = 10

	// repeatBuyerWindow routes a recent buyer straight to the
	// post-purchase phase on their next idle message.
	repeatBuyerWindow = 2 * time.Hour
)

// SessionStore persists per-sender conversation state.
type SessionStore interface {
	GetOrCreateSession(senderID string) (storage.Session, error)
	SaveSession(sess storage.Session) error
}

// MessageLog records conversation turns.
type MessageLog interface {
	AppendMessage(id, senderID, role, content string) error
}

// CatalogProvider resolves and lists products.
type CatalogProvider interface {
	GetProduct(id int64) (storage.Product, error)
	ListAvailableProducts() ([]storage.Product, error)
}

// PurchaseStore records finalized orders.
type PurchaseStore interface {
	CreatePurchase(p storage.Purchase) error
	LastPurchaseAt(senderID string) (time.Time, error)
}

// Classifier resolves a message to an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) intent.Intent
}

// Responder produces the open-ended reply for a phase.
type Responder interface {
	Reply(ctx context.Context, sess storage.Session, userText string) string
}

// Orchestrator owns the phase transition table. All events for one sender
// are serialized through a per-sender lock; different senders run in
// parallel.
type Orchestrator struct {
	sessions   SessionStore
	log        MessageLog
	catalog    CatalogProvider
	purchases  PurchaseStore
	classifier Classifier
	responder  Responder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewOrchestrator wires the conversation driver from its collaborators.
func NewOrchestrator(sessions SessionStore, log MessageLog, catalog CatalogProvider, purchases PurchaseStore, classifier Classifier, responder Responder) *Orchestrator {
	return &Orchestrator{
		sessions:   sessions,
		log:        log,
		catalog:    catalog,
		purchases:  purchases,
		classifier: classifier,
		responder:  responder,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) senderLock(senderID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[senderID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[senderID] = l
	}
	return l
}

// HandleEvent processes one inbound message and returns exactly one reply.
// It never returns an empty string: every failure path degrades to a fixed
// apology.
func (o *Orchestrator) HandleEvent(ctx context.Context, senderID, text string) string {
	l := o.senderLock(senderID)
	l.Lock()
	defer l.Unlock()

	o.append(senderID, "user", text)

	sess, err := o.sessions.GetOrCreateSession(senderID)
	if err != nil {
		slog.Error("loading session failed", "sender_id", senderID, "error", err)
		o.append(senderID, "assistant", respond.Apology)
		return respond.Apology
	}

	reply, err := o.dispatch(ctx, &sess, text)
	if err != nil {
		slog.Error("phase dispatch failed", "sender_id", senderID, "phase", sess.Phase, "error", err)
		sess.Phase = storage.PhaseIdle
		cart.Clear(&sess)
		if saveErr := o.sessions.SaveSession(sess); saveErr != nil {
			slog.Error("resetting session after failure failed", "sender_id", senderID, "error", saveErr)
		}
		reply = respond.Apology
	}

	o.append(senderID, "assistant", reply)
	return reply
}

func (o *Orchestrator) append(senderID, role, content string) {
	if err := o.log.AppendMessage(uuid.NewString(), senderID, role, content); err != nil {
		slog.Warn("appending message failed", "sender_id", senderID, "role", role, "error", err)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, sess *storage.Session, text string) (string, error) {
	if isControlWord(text) {
		sess.Phase = storage.PhaseIdle
		cart.Clear(sess)
		if err := o.sessions.SaveSession(*sess); err != nil {
			return "", fmt.Errorf("saving reset session: %w", err)
		}
		return respond.Greeting, nil
	}

	if sess.Phase == storage.PhaseConfirmingPurchase && isConfirmToken(text) {
		return o.finalize(sess)
	}

	switch sess.Phase {
	case storage.PhaseIdle:
		return o.handleIdle(ctx, sess, text)
	case storage.PhaseBrowsing:
		return o.handleBrowsing(ctx, sess, text)
	case storage.PhaseSelectingProducts:
		return o.handleSelecting(sess, text)
	case storage.PhaseCollectingPhone:
		return o.handleCollectingPhone(sess, text)
	case storage.PhaseCollectingAddress:
		return o.handleCollectingAddress(sess, text)
	case storage.PhaseConfirmingPurchase:
		return respond.ConfirmReprompt, nil
	case storage.PhaseComplaint:
		return o.handleComplaint(ctx, sess, text)
	case storage.PhaseInquiry:
		return o.handleInquiry(ctx, sess, text)
	case storage.PhasePostPurchase:
		return o.handlePostPurchase(ctx, sess, text)
	}
	return "", fmt.Errorf("unknown phase %q", sess.Phase)
}

func (o *Orchestrator) handleIdle(ctx context.Context, sess *storage.Session, text string) (string, error) {
	lastAt, err := o.purchases.LastPurchaseAt(sess.SenderID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("looking up last purchase failed", "sender_id", sess.SenderID, "error", err)
	}
	if err == nil && time.Since(lastAt) < repeatBuyerWindow {
		sess.Phase = storage.PhasePostPurchase
		return o.handlePostPurchase(ctx, sess, text)
	}

	switch o.classifier.Classify(ctx, text) {
	case intent.Catalog:
		return o.toBrowsing(sess)
	case intent.Purchase:
		return o.toSelecting(sess)
	case intent.Info:
		sess.Phase = storage.PhaseInquiry
		if err := o.sessions.SaveSession(*sess); err != nil {
			return "", fmt.Errorf("saving session: %w", err)
		}
		return o.responder.Reply(ctx, *sess, text), nil
	case intent.Complaint:
		sess.Phase = storage.PhaseComplaint
		if err := o.sessions.SaveSession(*sess); err != nil {
			return "", fmt.Errorf("saving session: %w", err)
		}
		return respond.Fallback(storage.PhaseComplaint), nil
	case intent.Gratitude:
		return respond.ThankYou, nil
	default:
		return o.responder.Reply(ctx, *sess, text), nil
	}
}

func (o *Orchestrator) handleBrowsing(ctx context.Context, sess *storage.Session, text string) (string, error) {
	if containsAny(text, buyKeywords) {
		return o.toSelecting(sess)
	}
	return o.responder.Reply(ctx, *sess, text), nil
}

func (o *Orchestrator) handleSelecting(sess *storage.Session, text string) (string, error) {
	products, err := o.catalog.ListAvailableProducts()
	if err != nil {
		return "", fmt.Errorf("listing products: %w", err)
	}

	if p, quantity, ok := matchProduct(products, text); ok {
		cart.Add(sess, p.ID, quantity)
		if err := o.sessions.SaveSession(*sess); err != nil {
			return "", fmt.Errorf("saving session: %w", err)
		}
		lines, total, err := cart.Resolve(o.catalog, *sess)
		if err != nil {
			return "", fmt.Errorf("resolving cart: %w", err)
		}
		return respond.FormatCart(lines, total), nil
	}

	if containsAny(text, checkoutKeywords) {
		if len(sess.Cart) == 0 {
			return respond.CartEmpty, nil
		}
		sess.Phase = storage.PhaseCollectingPhone
		if err := o.sessions.SaveSession(*sess); err != nil {
			return "", fmt.Errorf("saving session: %w", err)
		}
		return respond.PhonePrompt, nil
	}

	return respond.FormatNotFound(products), nil
}

func (o *Orchestrator) handleCollectingPhone(sess *storage.Session, text string) (string, error) {
	phone, ok := matchPhone(text)
	if !ok {
		return respond.PhoneReprompt, nil
	}
	sess.Phone = phone
	sess.Phase = storage.PhaseCollectingAddress
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return respond.AddressPrompt, nil
}

func (o *Orchestrator) handleCollectingAddress(sess *storage.Session, text string) (string, error) {
	address := strings.TrimSpace(text)
	if utf8.RuneCountInString(address) <= minAddressLen {
		return respond.AddressReprompt, nil
	}
	sess.Address = address
	sess.Phase = storage.PhaseConfirmingPurchase
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	lines, total, err := cart.Resolve(o.catalog, *sess)
	if err != nil {
		return "", fmt.Errorf("resolving cart: %w", err)
	}
	return respond.FormatOrderSummary(lines, total, sess.Phone, sess.Address), nil
}

func (o *Orchestrator) handleComplaint(ctx context.Context, sess *storage.Session, text string) (string, error) {
	reply := o.responder.Reply(ctx, *sess, text)
	sess.Phase = storage.PhaseIdle
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return reply + respond.ComplaintSuffix, nil
}

func (o *Orchestrator) handleInquiry(ctx context.Context, sess *storage.Session, text string) (string, error) {
	reply := o.responder.Reply(ctx, *sess, text)
	sess.Phase = storage.PhaseIdle
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) handlePostPurchase(ctx context.Context, sess *storage.Session, text string) (string, error) {
	if containsAny(text, buyKeywords) {
		return o.toSelecting(sess)
	}
	if containsAny(text, catalogKeywords) {
		return o.toBrowsing(sess)
	}
	reply := o.responder.Reply(ctx, *sess, text)
	sess.Phase = storage.PhaseIdle
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return reply, nil
}

// toBrowsing moves the session to the browsing phase and emits the catalog.
func (o *Orchestrator) toBrowsing(sess *storage.Session) (string, error) {
	products, err := o.catalog.ListAvailableProducts()
	if err != nil {
		return "", fmt.Errorf("listing products: %w", err)
	}
	sess.Phase = storage.PhaseBrowsing
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return respond.FormatCatalog(products), nil
}

// toSelecting moves the session to product selection with catalog and prompt.
func (o *Orchestrator) toSelecting(sess *storage.Session) (string, error) {
	products, err := o.catalog.ListAvailableProducts()
	if err != nil {
		return "", fmt.Errorf("listing products: %w", err)
	}
	sess.Phase = storage.PhaseSelectingProducts
	if err := o.sessions.SaveSession(*sess); err != nil {
		return "", fmt.Errorf("saving session: %w", err)
	}
	return respond.FormatCatalog(products) + "\n\n" + respond.SelectPrompt, nil
}
