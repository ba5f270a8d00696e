package bot

import (
	"regexp"
	"strings"

	"github.com/bakirov/instashop/internal/storage"
)

// confirmToken finalizes an order from the confirmation phase. Matching is
// case-insensitive and ignores surrounding and embedded whitespace.
const confirmToken = "подтвердить"

// controlWords reset the session from any phase.
var controlWords = []string{"помощь", "начать", "старт", "reset"}

// buyKeywords move a browsing or post-purchase customer into selection.
var buyKeywords = []string{"куплю", "купить", "заказать", "заказ", "приобрести", "оформить", "беру", "возьму"}

// catalogKeywords re-open the catalog from the post-purchase phase.
var catalogKeywords = []string{"каталог", "ассортимент", "товары", "что есть", "прайс", "цены"}

// checkoutKeywords move a customer with a cart on to phone collection.
var checkoutKeywords = []string{"оформить", "оформи", "готово", "хватит", "достаточно"}

func isControlWord(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, w := range controlWords {
		if t == w {
			return true
		}
	}
	return false
}

func isConfirmToken(text string) bool {
	t := strings.ToLower(strings.Join(strings.Fields(text), ""))
	return t == confirmToken
}

func containsAny(text string, keywords []string) bool {
	t := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

// quantityPattern extracts an item count, e.g. "2 шт" / "3 штуки".
var quantityPattern = regexp.MustCompile(`(\d+)\s*шт`)

// matchProduct finds the first available product whose name appears in the
// message (case-insensitive substring). The quantity comes from the last
// count suffix in the message, defaulting to 1. No ambiguity resolution:
// first product match wins.
func matchProduct(products []storage.Product, text string) (storage.Product, int, bool) {
	lower := strings.ToLower(text)
	for _, p := range products {
		if !strings.Contains(lower, strings.ToLower(p.Name)) {
			continue
		}
		quantity := 1
		if ms := quantityPattern.FindAllStringSubmatch(lower, -1); ms != nil {
			if n := parseCount(ms[len(ms)-1][1]); n >= 1 {
				quantity = n
			}
		}
		return p, quantity, true
	}
	return storage.Product{}, 0, false
}

func parseCount(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
		if n > 999 {
			return 999
		}
	}
	return n
}

// phonePatterns are tried in order against the message with separators
// stripped: country-code form, leading-zero form, then a bare digit group.
var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\+996\d{9}`),
	regexp.MustCompile(`0\d{9}`),
	regexp.MustCompile(`\d{9,12}`),
}

var phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// matchPhone extracts a normalized phone number from the message, or reports
// that none was recognized.
func matchPhone(text string) (string, bool) {
	stripped := phoneSeparators.Replace(text)
	for _, p := range phonePatterns {
		if m := p.FindString(stripped); m != "" {
			return m, true
		}
	}
	return "", false
}
