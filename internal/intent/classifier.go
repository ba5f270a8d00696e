// Package intent resolves a free-text customer message to one of a fixed
// set of intents, preferring fast keyword rules over the AI provider.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bakirov/instashop/internal/ai"
)

const classificationTimeout = 5 * time.Second

// Intent is the classified purpose of a single inbound message.
type Intent string

const (
	Purchase  Intent = "PURCHASE"
	Catalog   Intent = "CATALOG"
	Info      Intent = "INFO"
	Complaint Intent = "COMPLAINT"
	Gratitude Intent = "GRATITUDE"
	Other     Intent = "OTHER"
)

// ParseIntent maps a raw label to an Intent; anything out of set is Other.
func ParseIntent(s string) Intent {
	label := Intent(strings.ToUpper(strings.TrimSpace(s)))
	switch label {
	case Purchase, Catalog, Info, Complaint, Gratitude, Other:
		return label
	}
	return Other
}

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

// keywordRules are checked in fixed priority order; the first list with a
// hit wins. INFO has no keyword list and is only ever produced by the AI.
var keywordRules = []struct {
	intent   Intent
	keywords []string
}{
	{Purchase, []string{"куплю", "купить", "заказать", "заказ", "приобрести", "оформить", "беру", "возьму"}},
	{Catalog, []string{"каталог", "ассортимент", "товары", "что есть", "прайс", "цены"}},
	{Complaint, []string{"жалоба", "жаловаться", "брак", "не работает", "возврат", "верните", "недоволен", "плохо"}},
	{Gratitude, []string{"спасибо", "благодарю", "рахмат"}},
}

const classifierPrompt = `Ты — классификатор сообщений покупателей магазина товаров для парикмахеров. ` +
	`Определи намерение сообщения и ответь РОВНО ОДНИМ словом из списка: ` +
	`PURCHASE, CATALOG, INFO, COMPLAINT, GRATITUDE, OTHER. Никакого другого текста.`

// Classifier resolves messages to intents, falling back to the AI provider
// only when keywords miss and the provider is healthy.
type Classifier struct {
	ai     Completer
	health Health
}

// NewClassifier creates a Classifier using the given completer and health monitor.
func NewClassifier(completer Completer, health Health) *Classifier {
	return &Classifier{ai: completer, health: health}
}

// Classify returns the intent for the message. It never fails: any AI
// problem degrades to Other, and every AI attempt is reported to the
// health monitor.
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	normalized := strings.ToLower(text)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(normalized, kw) {
				return rule.intent
			}
		}
	}

	if !c.health.IsHealthy(ctx) {
		return Other
	}

	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	raw, err := c.ai.Complete(ctx, []ai.Message{
		{Role: "system", Content: classifierPrompt},
		{Role: "user", Content: text},
	}, 10)
	if err != nil {
		slog.Warn("intent classification failed", "error", err)
		c.health.RecordFailure()
		return Other
	}
	c.health.RecordSuccess()

	return ParseIntent(raw)
}
