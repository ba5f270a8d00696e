package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for products, sessions,
// messages, and purchases.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "instashop.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// timeLayout keeps fractional seconds at fixed width so stored timestamps
// sort lexicographically in chronological order. Messages within one turn
// land microseconds apart and must not tie.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

// --- Products ---

// CreateProduct inserts a product and returns its generated id.
func (s *Store) CreateProduct(prod Product) (int64, error) {
	created := prod.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO products (name, description, category, price, available, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		prod.Name, prod.Description, prod.Category, prod.Price, prod.Available, formatTime(created),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetProduct returns the product with the given id, or ErrNotFound.
func (s *Store) GetProduct(id int64) (Product, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, category, price, available, created_at
		FROM products WHERE id = ?`, id)
	return scanProduct(row)
}

// GetProductByName returns the product with the given exact name, or ErrNotFound.
func (s *Store) GetProductByName(name string) (Product, error) {
	row := s.db.QueryRow(`
		SELECT id, name, description, category, price, available, created_at
		FROM products WHERE name = ?`, name)
	return scanProduct(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Available, &createdAt)
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	if err != nil {
		return Product{}, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return Product{}, err
	}
	return p, nil
}

// ListAvailableProducts returns all available products ordered by id.
func (s *Store) ListAvailableProducts() ([]Product, error) {
	return s.listProducts("WHERE available = 1")
}

// ListProducts returns all products ordered by id, available or not.
func (s *Store) ListProducts() ([]Product, error) {
	return s.listProducts("")
}

func (s *Store) listProducts(where string) ([]Product, error) {
	rows, err := s.db.Query(`
		SELECT id, name, description, category, price, available, created_at
		FROM products ` + where + ` ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// SetProductAvailability flips a product's availability flag.
func (s *Store) SetProductAvailability(id int64, available bool) error {
	res, err := s.db.Exec(`UPDATE products SET available = ? WHERE id = ?`, available, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Sessions ---

// GetOrCreateSession loads the session for a sender, creating an idle one on
// first contact. Sessions are never deleted by the conversation core.
func (s *Store) GetOrCreateSession(senderID string) (Session, error) {
	var sess Session
	var phase, createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT sender_id, phase, phone, address, created_at, updated_at
		FROM sessions WHERE sender_id = ?`, senderID,
	).Scan(&sess.SenderID, &phase, &sess.Phone, &sess.Address, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		now := time.Now()
		sess = Session{
			SenderID:  senderID,
			Phase:     PhaseIdle,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := s.db.Exec(`
			INSERT INTO sessions (sender_id, phase, phone, address, created_at, updated_at)
			VALUES (?, ?, '', '', ?, ?)`,
			senderID, string(PhaseIdle), formatTime(now), formatTime(now),
		); err != nil {
			return Session{}, fmt.Errorf("creating session: %w", err)
		}
		return sess, nil
	}
	if err != nil {
		return Session{}, err
	}

	var validPhase bool
	if sess.Phase, validPhase = ParsePhase(phase); !validPhase {
		slog.Warn("session has unknown phase, resetting to idle", "sender_id", senderID, "phase", phase)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Session{}, err
	}

	rows, err := s.db.Query(`
		SELECT product_id, quantity FROM session_items
		WHERE sender_id = ? ORDER BY position ASC`, senderID)
	if err != nil {
		return Session{}, fmt.Errorf("loading cart: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(&item.ProductID, &item.Quantity); err != nil {
			return Session{}, err
		}
		sess.Cart = append(sess.Cart, item)
	}
	return sess, rows.Err()
}

// SaveSession persists the session row and replaces its cart items in one
// transaction.
func (s *Store) SaveSession(sess Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning session save: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE sessions SET phase = ?, phone = ?, address = ?, updated_at = ?
		WHERE sender_id = ?`,
		string(sess.Phase), sess.Phone, sess.Address, formatTime(now), sess.SenderID,
	); err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM session_items WHERE sender_id = ?`, sess.SenderID); err != nil {
		return fmt.Errorf("clearing cart items: %w", err)
	}
	for i, item := range sess.Cart {
		if _, err := tx.Exec(`
			INSERT INTO session_items (sender_id, product_id, quantity, position)
			VALUES (?, ?, ?, ?)`,
			sess.SenderID, item.ProductID, item.Quantity, i,
		); err != nil {
			return fmt.Errorf("inserting cart item: %w", err)
		}
	}

	return tx.Commit()
}

// ResetSession returns the sender's session to idle with an empty cart.
// Returns ErrNotFound if the sender has no session.
func (s *Store) ResetSession(senderID string) error {
	res, err := s.db.Exec(`
		UPDATE sessions SET phase = ?, phone = '', address = '', updated_at = ?
		WHERE sender_id = ?`,
		string(PhaseIdle), formatTime(time.Now()), senderID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.Exec(`DELETE FROM session_items WHERE sender_id = ?`, senderID)
	return err
}

// DeleteStaleSessions removes idle sessions not updated since cutoff and
// returns the number deleted. Used by retention, never by the conversation core.
func (s *Store) DeleteStaleSessions(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM sessions WHERE phase = ? AND updated_at < ?`,
		string(PhaseIdle), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Messages ---

// AppendMessage stores one conversation turn.
func (s *Store) AppendMessage(id, senderID, role, content string) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, sender_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		id, senderID, role, content, formatTime(time.Now()))
	return err
}

// RecentMessages returns up to window messages for the sender in chronological
// order, excluding anything older than maxAge.
func (s *Store) RecentMessages(senderID string, window int, maxAge time.Duration) ([]Message, error) {
	horizon := formatTime(time.Now().Add(-maxAge))
	rows, err := s.db.Query(`
		SELECT id, sender_id, role, content, created_at
		FROM messages
		WHERE sender_id = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT ?`,
		senderID, horizon, window)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(results)-1; i < j; i, j = i+1, j-1 {
		results[i], results[j] = results[j], results[i]
	}
	return results, nil
}

// DeleteMessagesBefore purges messages older than cutoff and returns the
// number deleted.
func (s *Store) DeleteMessagesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Purchases ---

// CreatePurchase inserts an order and its item snapshot atomically.
func (s *Store) CreatePurchase(p Purchase) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning purchase create: %w", err)
	}
	defer tx.Rollback()

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err := tx.Exec(`
		INSERT INTO purchases (id, sender_id, phone, address, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.SenderID, p.Phone, p.Address, p.TotalAmount, formatTime(created),
	); err != nil {
		return fmt.Errorf("inserting purchase: %w", err)
	}

	for _, item := range p.Items {
		if _, err := tx.Exec(`
			INSERT INTO purchase_items (purchase_id, product_id, product_name, quantity, unit_price, subtotal)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal,
		); err != nil {
			return fmt.Errorf("inserting purchase item: %w", err)
		}
	}

	return tx.Commit()
}

// LastPurchaseAt returns the creation time of the sender's most recent
// purchase, or ErrNotFound if they have never ordered.
func (s *Store) LastPurchaseAt(senderID string) (time.Time, error) {
	var createdAt string
	err := s.db.QueryRow(`
		SELECT created_at FROM purchases
		WHERE sender_id = ? ORDER BY created_at DESC LIMIT 1`, senderID,
	).Scan(&createdAt)
	if err == sql.ErrNoRows {
		return time.Time{}, ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseTime(createdAt)
}

// RecentPurchases returns the newest purchases with their item snapshots.
func (s *Store) RecentPurchases(limit int) ([]Purchase, error) {
	rows, err := s.db.Query(`
		SELECT id, sender_id, phone, address, total_amount, created_at
		FROM purchases ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Purchase
	for rows.Next() {
		var p Purchase
		var createdAt string
		if err := rows.Scan(&p.ID, &p.SenderID, &p.Phone, &p.Address, &p.TotalAmount, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		items, err := s.purchaseItems(results[i].ID)
		if err != nil {
			return nil, err
		}
		results[i].Items = items
	}
	return results, nil
}

func (s *Store) purchaseItems(purchaseID string) ([]PurchaseItem, error) {
	rows, err := s.db.Query(`
		SELECT product_id, product_name, quantity, unit_price, subtotal
		FROM purchase_items WHERE purchase_id = ?`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []PurchaseItem
	for rows.Next() {
		var it PurchaseItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Quantity, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// --- Stats ---

// GatherStats computes the operator summary. "Today" is midnight-to-now in UTC.
func (s *Store) GatherStats() (Stats, error) {
	var st Stats
	midnight := formatTime(time.Now().UTC().Truncate(24 * time.Hour))

	queries := []struct {
		dest any
		q    string
		args []any
	}{
		{&st.TotalSessions, `SELECT COUNT(*) FROM sessions`, nil},
		{&st.ActiveSessions, `SELECT COUNT(*) FROM sessions WHERE phase != ?`, []any{string(PhaseIdle)}},
		{&st.MessagesToday, `SELECT COUNT(*) FROM messages WHERE created_at >= ?`, []any{midnight}},
		{&st.TotalPurchases, `SELECT COUNT(*) FROM purchases`, nil},
		{&st.PurchasesToday, `SELECT COUNT(*) FROM purchases WHERE created_at >= ?`, []any{midnight}},
		{&st.TotalRevenue, `SELECT COALESCE(SUM(total_amount), 0) FROM purchases`, nil},
		{&st.RevenueToday, `SELECT COALESCE(SUM(total_amount), 0) FROM purchases WHERE created_at >= ?`, []any{midnight}},
		{&st.TotalProducts, `SELECT COUNT(*) FROM products`, nil},
		{&st.AvailableProducts, `SELECT COUNT(*) FROM products WHERE available = 1`, nil},
	}
	for _, q := range queries {
		if err := s.db.QueryRow(q.q, q.args...).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("gathering stats: %w", err)
		}
	}
	return st, nil
}
