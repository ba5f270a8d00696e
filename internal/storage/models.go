package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Phase is the current step of a sender's conversation state machine.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhaseBrowsing           Phase = "browsing"
	PhaseSelectingProducts  Phase = "selecting_products"
	PhaseCollectingPhone    Phase = "collecting_phone"
	PhaseCollectingAddress  Phase = "collecting_address"
	PhaseConfirmingPurchase Phase = "confirming_purchase"
	PhaseComplaint          Phase = "complaint"
	PhaseInquiry            Phase = "inquiry"
	PhasePostPurchase       Phase = "post_purchase"
)

// ParsePhase maps a stored string to a Phase. Unknown values fall back to
// idle so a session with a corrupt phase column recovers instead of wedging.
func ParsePhase(s string) (Phase, bool) {
	switch Phase(s) {
	case PhaseIdle, PhaseBrowsing, PhaseSelectingProducts, PhaseCollectingPhone,
		PhaseCollectingAddress, PhaseConfirmingPurchase, PhaseComplaint,
		PhaseInquiry, PhasePostPurchase:
		return Phase(s), true
	}
	return PhaseIdle, false
}

// Product is a purchasable catalog item. Prices are whole som.
type Product struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Price       int64     `json:"price"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"created_at"`
}

// CartItem is one selected product inside a session's cart.
// A cart never holds two items with the same ProductID.
type CartItem struct {
	ProductID int64
	Quantity  int
}

// Session is the per-sender conversation state.
type Session struct {
	SenderID  string
	Phase     Phase
	Cart      []CartItem
	Phone     string
	Address   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one stored conversation turn.
type Message struct {
	ID        string
	SenderID  string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// PurchaseItem is an immutable snapshot of one cart line at finalization time.
type PurchaseItem struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	Subtotal    int64  `json:"subtotal"`
}

// Purchase is a finalized order. It is a point-in-time receipt and never
// changes after creation, regardless of later catalog edits.
type Purchase struct {
	ID          string         `json:"id"`
	SenderID    string         `json:"sender_id"`
	Items       []PurchaseItem `json:"items"`
	Phone       string         `json:"phone"`
	Address     string         `json:"address"`
	TotalAmount int64          `json:"total_amount"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Stats is an operator-facing summary of store activity.
type Stats struct {
	TotalSessions     int   `json:"total_sessions"`
	ActiveSessions    int   `json:"active_sessions"`
	MessagesToday     int   `json:"messages_today"`
	TotalPurchases    int   `json:"total_purchases"`
	PurchasesToday    int   `json:"purchases_today"`
	TotalRevenue      int64 `json:"total_revenue"`
	RevenueToday      int64 `json:"revenue_today"`
	TotalProducts     int   `json:"total_products"`
	AvailableProducts int   `json:"available_products"`
}
