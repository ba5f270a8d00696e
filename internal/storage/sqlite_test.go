package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedProduct(t *testing.T, s *Store, name string, price int64, available bool) int64 {
	t.Helper()
	id, err := s.CreateProduct(Product{Name: name, Price: price, Available: available})
	if err != nil {
		t.Fatalf("CreateProduct(%q): %v", name, err)
	}
	return id
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema is not re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	seedProduct(t, s1, "Триммер Wahl", 3500, true)
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	p, err := s2.GetProductByName("Триммер Wahl")
	if err != nil {
		t.Fatalf("GetProductByName after reopen: %v", err)
	}
	if p.Price != 3500 {
		t.Errorf("Price = %d, want 3500", p.Price)
	}
}

func TestProductCRUD(t *testing.T) {
	s := openTestStore(t)

	id := seedProduct(t, s, "Машинка Moser", 4200, true)
	seedProduct(t, s, "Триммер Philips", 2800, false)

	p, err := s.GetProduct(id)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "Машинка Moser" || p.Price != 4200 || !p.Available {
		t.Errorf("GetProduct = %+v", p)
	}

	available, err := s.ListAvailableProducts()
	if err != nil {
		t.Fatalf("ListAvailableProducts: %v", err)
	}
	if len(available) != 1 {
		t.Fatalf("got %d available products, want 1", len(available))
	}

	all, err := s.ListProducts()
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d products, want 2", len(all))
	}

	if err := s.SetProductAvailability(id, false); err != nil {
		t.Fatalf("SetProductAvailability: %v", err)
	}
	available, err = s.ListAvailableProducts()
	if err != nil {
		t.Fatalf("ListAvailableProducts: %v", err)
	}
	if len(available) != 0 {
		t.Errorf("got %d available products after hiding, want 0", len(available))
	}
}

func TestGetProductNotFound(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetProduct(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProduct(42) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetProductByName("нет такого"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProductByName error = %v, want ErrNotFound", err)
	}
	if err := s.SetProductAvailability(42, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetProductAvailability error = %v, want ErrNotFound", err)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestStore(t)
	p1 := seedProduct(t, s, "Триммер Wahl", 3500, true)
	p2 := seedProduct(t, s, "Машинка Moser", 4200, true)

	sess, err := s.GetOrCreateSession("sender-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if sess.Phase != PhaseIdle {
		t.Errorf("new session phase = %q, want idle", sess.Phase)
	}
	if len(sess.Cart) != 0 {
		t.Errorf("new session cart has %d items", len(sess.Cart))
	}

	sess.Phase = PhaseConfirmingPurchase
	sess.Phone = "+996555123456"
	sess.Address = "Бишкек, ул. Киевская 95"
	sess.Cart = []CartItem{{ProductID: p1, Quantity: 2}, {ProductID: p2, Quantity: 1}}
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := s.GetOrCreateSession("sender-1")
	if err != nil {
		t.Fatalf("reloading session: %v", err)
	}
	if got.Phase != PhaseConfirmingPurchase {
		t.Errorf("phase = %q, want confirming_purchase", got.Phase)
	}
	if got.Phone != "+996555123456" {
		t.Errorf("phone = %q", got.Phone)
	}
	if len(got.Cart) != 2 {
		t.Fatalf("cart has %d items, want 2", len(got.Cart))
	}
	// Cart order must survive the round trip.
	if got.Cart[0].ProductID != p1 || got.Cart[0].Quantity != 2 {
		t.Errorf("cart[0] = %+v", got.Cart[0])
	}
	if got.Cart[1].ProductID != p2 || got.Cart[1].Quantity != 1 {
		t.Errorf("cart[1] = %+v", got.Cart[1])
	}
}

func TestSessionCorruptPhaseRecovers(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetOrCreateSession("sender-1"); err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE sessions SET phase = 'garbage' WHERE sender_id = 'sender-1'`); err != nil {
		t.Fatalf("corrupting phase: %v", err)
	}

	sess, err := s.GetOrCreateSession("sender-1")
	if err != nil {
		t.Fatalf("GetOrCreateSession after corruption: %v", err)
	}
	if sess.Phase != PhaseIdle {
		t.Errorf("phase = %q, want idle fallback", sess.Phase)
	}
}

func TestResetSession(t *testing.T) {
	s := openTestStore(t)
	p1 := seedProduct(t, s, "Триммер Wahl", 3500, true)

	sess, _ := s.GetOrCreateSession("sender-1")
	sess.Phase = PhaseSelectingProducts
	sess.Cart = []CartItem{{ProductID: p1, Quantity: 1}}
	sess.Phone = "0555123456"
	if err := s.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	if err := s.ResetSession("sender-1"); err != nil {
		t.Fatalf("ResetSession: %v", err)
	}

	got, _ := s.GetOrCreateSession("sender-1")
	if got.Phase != PhaseIdle || got.Phone != "" || len(got.Cart) != 0 {
		t.Errorf("after reset: phase=%q phone=%q cart=%d", got.Phase, got.Phone, len(got.Cart))
	}

	if err := s.ResetSession("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ResetSession(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestRecentMessagesWindowAndOrder(t *testing.T) {
	s := openTestStore(t)

	for i := range 6 {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if err := s.AppendMessage(uuid.NewString(), "sender-1", role, fmt.Sprintf("msg-%d", i)); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	msgs, err := s.RecentMessages("sender-1", 4, time.Hour)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
	// Chronological order, newest window.
	want := []string{"msg-2", "msg-3", "msg-4", "msg-5"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("msgs[%d] = %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestRecentMessagesMaxAge(t *testing.T) {
	s := openTestStore(t)

	old := formatTime(time.Now().Add(-48 * time.Hour))
	if _, err := s.db.Exec(`INSERT INTO messages (id, sender_id, role, content, created_at) VALUES (?, 'sender-1', 'user', 'stale', ?)`,
		uuid.NewString(), old); err != nil {
		t.Fatalf("inserting old message: %v", err)
	}
	if err := s.AppendMessage(uuid.NewString(), "sender-1", "user", "fresh"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	msgs, err := s.RecentMessages("sender-1", 10, 24*time.Hour)
	if err != nil {
		t.Fatalf("RecentMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "fresh" {
		t.Errorf("got %d messages (first %q), want only the fresh one", len(msgs), msgs[0].Content)
	}
}

func TestDeleteMessagesBefore(t *testing.T) {
	s := openTestStore(t)

	old := formatTime(time.Now().Add(-48 * time.Hour))
	if _, err := s.db.Exec(`INSERT INTO messages (id, sender_id, role, content, created_at) VALUES (?, 'sender-1', 'user', 'stale', ?)`,
		uuid.NewString(), old); err != nil {
		t.Fatalf("inserting old message: %v", err)
	}
	if err := s.AppendMessage(uuid.NewString(), "sender-1", "user", "fresh"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	n, err := s.DeleteMessagesBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteMessagesBefore: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d messages, want 1", n)
	}
}

func TestPurchaseRoundTrip(t *testing.T) {
	s := openTestStore(t)

	purchase := Purchase{
		ID:       uuid.NewString(),
		SenderID: "sender-1",
		Items: []PurchaseItem{
			{ProductID: 1, ProductName: "Триммер Wahl", Quantity: 2, UnitPrice: 3500, Subtotal: 7000},
			{ProductID: 2, ProductName: "Машинка Moser", Quantity: 1, UnitPrice: 4200, Subtotal: 4200},
		},
		Phone:       "+996555123456",
		Address:     "Бишкек, ул. Киевская 95",
		TotalAmount: 11200,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePurchase(purchase); err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}

	recent, err := s.RecentPurchases(5)
	if err != nil {
		t.Fatalf("RecentPurchases: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d purchases, want 1", len(recent))
	}
	got := recent[0]
	if got.TotalAmount != 11200 {
		t.Errorf("TotalAmount = %d, want 11200", got.TotalAmount)
	}
	if len(got.Items) != 2 {
		t.Fatalf("got %d items, want 2", len(got.Items))
	}
	var sum int64
	for _, it := range got.Items {
		if it.Subtotal != it.UnitPrice*int64(it.Quantity) {
			t.Errorf("item %q subtotal %d != %d×%d", it.ProductName, it.Subtotal, it.UnitPrice, it.Quantity)
		}
		sum += it.Subtotal
	}
	if sum != got.TotalAmount {
		t.Errorf("sum of subtotals %d != total %d", sum, got.TotalAmount)
	}

	at, err := s.LastPurchaseAt("sender-1")
	if err != nil {
		t.Fatalf("LastPurchaseAt: %v", err)
	}
	if time.Since(at) > time.Minute {
		t.Errorf("LastPurchaseAt = %v, want recent", at)
	}

	if _, err := s.LastPurchaseAt("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LastPurchaseAt(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteStaleSessions(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetOrCreateSession("stale"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetOrCreateSession("busy"); err != nil {
		t.Fatal(err)
	}

	old := formatTime(time.Now().Add(-10 * 24 * time.Hour))
	if _, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE sender_id = 'stale'`, old); err != nil {
		t.Fatal(err)
	}
	// A non-idle session is never reaped, however old.
	if _, err := s.db.Exec(`UPDATE sessions SET updated_at = ?, phase = ? WHERE sender_id = 'busy'`, old, string(PhaseCollectingPhone)); err != nil {
		t.Fatal(err)
	}

	n, err := s.DeleteStaleSessions(time.Now().Add(-7 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("DeleteStaleSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d sessions, want 1", n)
	}
}

func TestGatherStats(t *testing.T) {
	s := openTestStore(t)
	seedProduct(t, s, "Триммер Wahl", 3500, true)
	seedProduct(t, s, "Старая модель", 1000, false)

	if _, err := s.GetOrCreateSession("sender-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(uuid.NewString(), "sender-1", "user", "каталог"); err != nil {
		t.Fatal(err)
	}
	if err := s.CreatePurchase(Purchase{
		ID:          uuid.NewString(),
		SenderID:    "sender-1",
		Items:       []PurchaseItem{{ProductID: 1, ProductName: "Триммер Wahl", Quantity: 1, UnitPrice: 3500, Subtotal: 3500}},
		TotalAmount: 3500,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GatherStats()
	if err != nil {
		t.Fatalf("GatherStats: %v", err)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", stats.TotalSessions)
	}
	if stats.TotalPurchases != 1 || stats.PurchasesToday != 1 {
		t.Errorf("purchases = %d/%d, want 1/1", stats.TotalPurchases, stats.PurchasesToday)
	}
	if stats.TotalRevenue != 3500 {
		t.Errorf("TotalRevenue = %d, want 3500", stats.TotalRevenue)
	}
	if stats.TotalProducts != 2 || stats.AvailableProducts != 1 {
		t.Errorf("products = %d/%d, want 2/1", stats.TotalProducts, stats.AvailableProducts)
	}
}
