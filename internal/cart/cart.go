// Package cart holds the pure logic over a session's selected items.
package cart

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bakirov/instashop/internal/storage"
)

// Catalog resolves product ids to current catalog rows.
type Catalog interface {
	GetProduct(id int64) (storage.Product, error)
}

// Add merges a product into the session's cart. An existing line for the
// same product gets its quantity incremented, so a cart never holds two
// lines for one product. Quantities below 1 are clamped to 1.
func Add(sess *storage.Session, productID int64, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	for i := range sess.Cart {
		if sess.Cart[i].ProductID == productID {
			sess.Cart[i].Quantity += quantity
			return
		}
	}
	sess.Cart = append(sess.Cart, storage.CartItem{ProductID: productID, Quantity: quantity})
}

// Remove drops the line for productID if present; otherwise a no-op.
func Remove(sess *storage.Session, productID int64) {
	for i := range sess.Cart {
		if sess.Cart[i].ProductID == productID {
			sess.Cart = append(sess.Cart[:i], sess.Cart[i+1:]...)
			return
		}
	}
}

// Clear empties the cart and drops collected contact data. Contact fields
// are only meaningful alongside a cart, so they always go together.
func Clear(sess *storage.Session) {
	sess.Cart = nil
	sess.Phone = ""
	sess.Address = ""
}

// Line is one cart entry resolved against the catalog.
type Line struct {
	Product  storage.Product
	Quantity int
	Subtotal int64
}

// Resolve prices the cart against the current catalog. Items referencing a
// product that no longer exists are skipped with a logged warning. The priced
// snapshot is only realized at finalization, so a stale reference here is a
// display gap, not data loss.
func Resolve(c Catalog, sess storage.Session) ([]Line, int64, error) {
	var lines []Line
	var total int64
	for _, item := range sess.Cart {
		p, err := c.GetProduct(item.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("cart references missing product, skipping", "sender_id", sess.SenderID, "product_id", item.ProductID)
			continue
		}
		if err != nil {
			return nil, 0, fmt.Errorf("resolving product %d: %w", item.ProductID, err)
		}
		subtotal := p.Price * int64(item.Quantity)
		lines = append(lines, Line{Product: p, Quantity: item.Quantity, Subtotal: subtotal})
		total += subtotal
	}
	return lines, total, nil
}

// Total computes the cart total under the same skip policy as Resolve.
func Total(c Catalog, sess storage.Session) (int64, error) {
	_, total, err := Resolve(c, sess)
	return total, err
}
