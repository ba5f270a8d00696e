package bot

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bakirov/instashop/internal/cart"
	"github.com/bakirov/instashop/internal/respond"
	"github.com/bakirov/instashop/internal/storage"
)

// finalize converts the confirmed cart into an immutable purchase record and
// moves the session to the post-purchase phase.
//
// Any failure before the purchase is recorded leaves the session untouched,
// so the customer can simply send the confirmation token again.
func (o *Orchestrator) finalize(sess *storage.Session) (string, error) {
	lines, total, err := cart.Resolve(o.catalog, *sess)
	if err != nil {
		slog.Error("resolving cart at finalization failed", "sender_id", sess.SenderID, "error", err)
		return respond.Apology, nil
	}

	// Every item referenced a product that has since been removed. There is
	// nothing to sell, so restart selection instead of recording an empty order.
	if len(lines) == 0 {
		slog.Warn("cart fully dangling at finalization", "sender_id", sess.SenderID)
		cart.Clear(sess)
		sess.Phase = storage.PhaseSelectingProducts
		if err := o.sessions.SaveSession(*sess); err != nil {
			slog.Error("saving session failed", "sender_id", sess.SenderID, "error", err)
			return respond.Apology, nil
		}
		return respond.CartEmpty, nil
	}

	items := make([]storage.PurchaseItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, storage.PurchaseItem{
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.Product.Price,
			Subtotal:    l.Subtotal,
		})
	}

	purchase := storage.Purchase{
		ID:          uuid.NewString(),
		SenderID:    sess.SenderID,
		Items:       items,
		Phone:       sess.Phone,
		Address:     sess.Address,
		TotalAmount: total,
		CreatedAt:   time.Now().UTC(),
	}

	if err := o.purchases.CreatePurchase(purchase); err != nil {
		slog.Error("creating purchase failed", "sender_id", sess.SenderID, "error", err)
		return respond.Apology, nil
	}

	phone, address := sess.Phone, sess.Address
	sess.Phase = storage.PhasePostPurchase
	cart.Clear(sess)
	if err := o.sessions.SaveSession(*sess); err != nil {
		// The order is already recorded; tell the customer so and let the
		// session catch up on the next event.
		slog.Error("saving session after purchase failed", "sender_id", sess.SenderID, "purchase_id", purchase.ID, "error", err)
	}

	slog.Info("purchase finalized", "sender_id", sess.SenderID, "purchase_id", purchase.ID, "total", total)
	return respond.FormatOrderConfirmation(purchase.ID, total, phone, address), nil
}
