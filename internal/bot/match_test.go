package bot

import (
	"testing"

	"github.com/bakirov/instashop/internal/storage"
)

var matchProducts = []storage.Product{
	{ID: 1, Name: "Триммер Wahl", Price: 3500, Available: true},
	{ID: 2, Name: "Триммер Philips", Price: 2800, Available: true},
	{ID: 3, Name: "Машинка Moser", Price: 4200, Available: true},
}

func TestMatchProduct(t *testing.T) {
	cases := []struct {
		text    string
		wantID  int64
		wantQty int
		wantHit bool
	}{
		{"хочу триммер philips", 2, 1, true},
		{"Триммер Philips 2 шт", 2, 2, true},
		{"машинка moser, 3 штуки пожалуйста", 3, 3, true},
		{"МАШИНКА MOSER", 3, 1, true},
		{"сначала хотел 2 шт, но беру триммер wahl 4 шт", 1, 4, true},
		{"есть фен?", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tc := range cases {
		p, qty, ok := matchProduct(matchProducts, tc.text)
		if ok != tc.wantHit {
			t.Errorf("matchProduct(%q) hit = %v, want %v", tc.text, ok, tc.wantHit)
			continue
		}
		if !ok {
			continue
		}
		if p.ID != tc.wantID || qty != tc.wantQty {
			t.Errorf("matchProduct(%q) = product %d × %d, want %d × %d", tc.text, p.ID, qty, tc.wantID, tc.wantQty)
		}
	}
}

// Catalog order decides ties: "триммер wahl" names product 1 even though
// product 2 is also a trimmer.
func TestMatchProductFirstWins(t *testing.T) {
	p, _, ok := matchProduct(matchProducts, "триммер wahl или philips, всё равно")
	if !ok || p.ID != 1 {
		t.Errorf("got product %d, want 1 (catalog order)", p.ID)
	}
}

func TestMatchProductQuantityCapped(t *testing.T) {
	_, qty, ok := matchProduct(matchProducts, "триммер wahl 5000 шт")
	if !ok {
		t.Fatal("no match")
	}
	if qty != 999 {
		t.Errorf("quantity = %d, want cap 999", qty)
	}
}

func TestMatchPhone(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"+996 555 123 456", "+996555123456", true},
		{"мой номер +996-555-123-456", "+996555123456", true},
		{"0555 12 34 56", "0555123456", true},
		{"(0555) 123-456", "0555123456", true},
		{"555123456", "555123456", true},
		{"позвоните мне", "", false},
		{"12345", "", false},
	}
	for _, tc := range cases {
		got, ok := matchPhone(tc.text)
		if ok != tc.ok || got != tc.want {
			t.Errorf("matchPhone(%q) = %q, %v; want %q, %v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIsConfirmToken(t *testing.T) {
	for _, text := range []string{"подтвердить", " ПодТвердить ", "ПОДТВЕРДИТЬ", "под твердить"} {
		if !isConfirmToken(text) {
			t.Errorf("isConfirmToken(%q) = false", text)
		}
	}
	for _, text := range []string{"подтверждаю", "да", "подтвердить заказ"} {
		if isConfirmToken(text) {
			t.Errorf("isConfirmToken(%q) = true", text)
		}
	}
}

func TestIsControlWord(t *testing.T) {
	for _, text := range []string{"помощь", " Начать ", "RESET", "старт"} {
		if !isControlWord(text) {
			t.Errorf("isControlWord(%q) = false", text)
		}
	}
	// Control words only trigger as the entire message.
	if isControlWord("мне нужна помощь с заказом") {
		t.Error("isControlWord matched inside a sentence")
	}
}

func TestContainsAny(t *testing.T) {
	if !containsAny("Хочу КУПИТЬ триммер", buyKeywords) {
		t.Error("buy keyword not found case-insensitively")
	}
	if containsAny("просто смотрю", buyKeywords) {
		t.Error("false positive on neutral text")
	}
}
