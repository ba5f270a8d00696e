package cart

import (
	"errors"
	"testing"

	"github.com/bakirov/instashop/internal/storage"
)

type mockCatalog struct {
	products map[int64]storage.Product
	err      error
}

func (m *mockCatalog) GetProduct(id int64) (storage.Product, error) {
	if m.err != nil {
		return storage.Product{}, m.err
	}
	p, ok := m.products[id]
	if !ok {
		return storage.Product{}, storage.ErrNotFound
	}
	return p, nil
}

func TestAddMergesDuplicates(t *testing.T) {
	sess := &storage.Session{SenderID: "s"}

	Add(sess, 1, 2)
	Add(sess, 2, 1)
	Add(sess, 1, 3)

	if len(sess.Cart) != 2 {
		t.Fatalf("cart has %d items, want 2", len(sess.Cart))
	}
	if sess.Cart[0].ProductID != 1 || sess.Cart[0].Quantity != 5 {
		t.Errorf("cart[0] = %+v, want product 1 × 5", sess.Cart[0])
	}

	// Invariant: no two items share a product id, quantities ≥ 1.
	seen := map[int64]bool{}
	for _, item := range sess.Cart {
		if seen[item.ProductID] {
			t.Errorf("duplicate product %d in cart", item.ProductID)
		}
		seen[item.ProductID] = true
		if item.Quantity < 1 {
			t.Errorf("product %d quantity %d < 1", item.ProductID, item.Quantity)
		}
	}
}

func TestAddClampsQuantity(t *testing.T) {
	sess := &storage.Session{SenderID: "s"}

	Add(sess, 1, 0)
	Add(sess, 2, -5)

	for _, item := range sess.Cart {
		if item.Quantity != 1 {
			t.Errorf("product %d quantity = %d, want 1", item.ProductID, item.Quantity)
		}
	}
}

func TestRemove(t *testing.T) {
	sess := &storage.Session{SenderID: "s"}
	Add(sess, 1, 1)
	Add(sess, 2, 1)

	Remove(sess, 1)
	if len(sess.Cart) != 1 || sess.Cart[0].ProductID != 2 {
		t.Errorf("cart = %+v, want only product 2", sess.Cart)
	}

	// Removing a missing product is a no-op.
	Remove(sess, 99)
	if len(sess.Cart) != 1 {
		t.Errorf("cart has %d items after no-op remove, want 1", len(sess.Cart))
	}
}

func TestClearDropsContactData(t *testing.T) {
	sess := &storage.Session{SenderID: "s", Phone: "+996555123456", Address: "Бишкек"}
	Add(sess, 1, 1)

	Clear(sess)

	if len(sess.Cart) != 0 || sess.Phone != "" || sess.Address != "" {
		t.Errorf("after Clear: cart=%d phone=%q address=%q", len(sess.Cart), sess.Phone, sess.Address)
	}
}

func TestResolveComputesSubtotals(t *testing.T) {
	catalog := &mockCatalog{products: map[int64]storage.Product{
		1: {ID: 1, Name: "Триммер Wahl", Price: 3500},
		2: {ID: 2, Name: "Машинка Moser", Price: 4200},
	}}
	sess := storage.Session{SenderID: "s", Cart: []storage.CartItem{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	}}

	lines, total, err := Resolve(catalog, sess)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].Subtotal != 7000 {
		t.Errorf("lines[0].Subtotal = %d, want 7000", lines[0].Subtotal)
	}
	if total != 11200 {
		t.Errorf("total = %d, want 11200", total)
	}
}

func TestResolveSkipsDanglingReferences(t *testing.T) {
	catalog := &mockCatalog{products: map[int64]storage.Product{
		1: {ID: 1, Name: "Триммер Wahl", Price: 3500},
	}}
	sess := storage.Session{SenderID: "s", Cart: []storage.CartItem{
		{ProductID: 1, Quantity: 1},
		{ProductID: 99, Quantity: 3},
	}}

	lines, total, err := Resolve(catalog, sess)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1 (dangling reference skipped)", len(lines))
	}
	if total != 3500 {
		t.Errorf("total = %d, want 3500", total)
	}
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	catalog := &mockCatalog{err: errors.New("db locked")}
	sess := storage.Session{SenderID: "s", Cart: []storage.CartItem{{ProductID: 1, Quantity: 1}}}

	if _, _, err := Resolve(catalog, sess); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestTotal(t *testing.T) {
	catalog := &mockCatalog{products: map[int64]storage.Product{
		1: {ID: 1, Name: "Триммер Wahl", Price: 3500},
	}}
	sess := storage.Session{SenderID: "s", Cart: []storage.CartItem{{ProductID: 1, Quantity: 2}}}

	total, err := Total(catalog, sess)
	if err != nil {
		t.Fatalf("Total: %v", err)
	}
	if total != 7000 {
		t.Errorf("total = %d, want 7000", total)
	}
}
