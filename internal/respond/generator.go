// Package respond turns the conversation state into the outgoing reply,
// via the AI provider when it is healthy and static templates otherwise.
package respond

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bakirov/instashop/internal/ai"
	"github.com/bakirov/instashop/internal/cart"
	"github.com/bakirov/instashop/internal/storage"
)

const (
	generationTimeout = 10 * time.Second
	maxHistoryTurns   = 5
)

// Completer is the interface for chat completion calls.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message, maxTokens int) (string, error)
}

// Health gates AI usage and absorbs call outcomes.
type Health interface {
	IsHealthy(ctx context.Context) bool
	RecordSuccess()
	RecordFailure()
}

// History supplies the recent message log for a sender.
type History interface {
	RecentMessages(senderID string, window int, maxAge time.Duration) ([]storage.Message, error)
}

// Catalog supplies product data for prompt context.
type Catalog interface {
	GetProduct(id int64) (storage.Product, error)
	ListAvailableProducts() ([]storage.Product, error)
}

const basePrompt = `Ты — продавец-консультант магазина товаров для парикмахеров в Бишкеке ` +
	`(триммеры, машинки для стрижки, аксессуары). Общайся в Instagram Direct: дружелюбно, ` +
	`коротко (до 3-4 предложений), по-русски. Доставка по Бишкеку бесплатная, оплата при получении. ` +
	`Никогда не выдумывай товары и цены — называй только те, что перечислены ниже. ` +
	`Не проси оплату онлайн и не обещай скидок.`

// phasePrompts steer the model per conversation phase. Collection phases are
// deterministic and never reach the generator.
var phasePrompts = map[storage.Phase]string{
	storage.PhaseIdle:              `Клиент только начал разговор. Поздоровайся и предложи посмотреть каталог.`,
	storage.PhaseBrowsing:          `Клиент смотрит каталог. Помоги выбрать и предложи оформить заказ словом «купить».`,
	storage.PhaseSelectingProducts: `Клиент выбирает товары. Попроси написать точное название товара из списка.`,
	storage.PhaseInquiry:           `Клиент задаёт вопрос о товарах или доставке. Ответь по существу, опираясь на список товаров.`,
	storage.PhaseComplaint:         `Клиент жалуется. Извинись, прояви сочувствие и попроси описать проблему подробнее. Не спорь.`,
	storage.PhasePostPurchase:      `Клиент только что оформил заказ. Поблагодари и ответь на вопросы о доставке.`,
}

// Generator assembles the prompt for a turn and produces the reply text.
type Generator struct {
	ai        Completer
	health    Health
	history   History
	catalog   Catalog
	maxTokens int
	window    int
	maxAge    time.Duration
}

// NewGenerator creates a Generator. window and maxAge bound how much history
// feeds the prompt (at most 5 turns regardless of window); maxTokens caps the
// reply length requested from the provider.
func NewGenerator(completer Completer, health Health, history History, catalog Catalog, maxTokens, window int, maxAge time.Duration) *Generator {
	if window <= 0 || window > maxHistoryTurns {
		window = maxHistoryTurns
	}
	return &Generator{
		ai:        completer,
		health:    health,
		history:   history,
		catalog:   catalog,
		maxTokens: maxTokens,
		window:    window,
		maxAge:    maxAge,
	}
}

// Reply produces the outgoing text for the given session and inbound message.
// It never fails: provider problems degrade to the phase's static template,
// and every AI attempt is reported to the health monitor.
func (g *Generator) Reply(ctx context.Context, sess storage.Session, userText string) string {
	if !g.health.IsHealthy(ctx) {
		return Fallback(sess.Phase)
	}

	messages := g.buildMessages(sess, userText)

	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	text, err := g.ai.Complete(ctx, messages, g.maxTokens)
	if err != nil {
		slog.Warn("reply generation failed", "sender_id", sess.SenderID, "phase", sess.Phase, "error", err)
		g.health.RecordFailure()
		return Fallback(sess.Phase)
	}
	g.health.RecordSuccess()
	return text
}

func (g *Generator) buildMessages(sess storage.Session, userText string) []ai.Message {
	system := basePrompt
	if p, ok := phasePrompts[sess.Phase]; ok {
		system += "\n\n" + p
	}
	system += "\n\n" + g.catalogContext()
	if cartCtx := g.cartContext(sess); cartCtx != "" {
		system += "\n\n" + cartCtx
	}

	messages := []ai.Message{{Role: "system", Content: system}}

	history, err := g.history.RecentMessages(sess.SenderID, g.window, g.maxAge)
	if err != nil {
		slog.Warn("loading history failed", "sender_id", sess.SenderID, "error", err)
	}
	for _, m := range history {
		messages = append(messages, ai.Message{Role: m.Role, Content: m.Content})
	}

	// The inbound message is normally the tail of the history; append it
	// explicitly only if the log write raced or failed.
	if len(history) == 0 || history[len(history)-1].Role != "user" || history[len(history)-1].Content != userText {
		messages = append(messages, ai.Message{Role: "user", Content: userText})
	}
	return messages
}

func (g *Generator) catalogContext() string {
	products, err := g.catalog.ListAvailableProducts()
	if err != nil {
		slog.Warn("loading catalog for prompt failed", "error", err)
		return "Список товаров временно недоступен, предложи клиенту написать «каталог» позже."
	}
	if len(products) == 0 {
		return "Сейчас нет доступных товаров."
	}
	ctx := "Товары в наличии:\n"
	for _, p := range products {
		ctx += fmt.Sprintf("- %s: %d сом", p.Name, p.Price)
		if p.Description != "" {
			ctx += " (" + p.Description + ")"
		}
		ctx += "\n"
	}
	return ctx
}

func (g *Generator) cartContext(sess storage.Session) string {
	if len(sess.Cart) == 0 {
		return ""
	}
	lines, total, err := cart.Resolve(g.catalog, sess)
	if err != nil || len(lines) == 0 {
		return ""
	}
	ctx := "Корзина клиента:\n"
	for _, l := range lines {
		ctx += fmt.Sprintf("- %s × %d = %d сом\n", l.Product.Name, l.Quantity, l.Subtotal)
	}
	ctx += fmt.Sprintf("Итого: %d сом", total)
	return ctx
}
