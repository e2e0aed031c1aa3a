// Package store provides SQLite-backed persistence for the pharmacy
// catalog, per-store inventory, users, prescriptions, and workflow
// tickets. All mutation of durable state goes through this package;
// the agent loop never touches the database directly.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for reservation outcomes. Tool executors translate
// these into machine-readable error codes for the model.
var (
	// ErrItemNotFound means no inventory row exists for the requested
	// (medication, store) pair.
	ErrItemNotFound = errors.New("store or item not found")

	// ErrInsufficientStock means the row exists but holds less than the
	// requested quantity. No mutation occurred.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ticket types created by the mutating workflows.
const (
	TicketPrescriptionRequest  = "prescription_request"
	TicketInventoryReservation = "inventory_reservation"
)

// Store wraps a SQL database holding the pharmacy data.
type Store struct {
	db *sql.DB
}

// New creates a store, running migrations on first use.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// DB exposes the underlying database for callers that need to close it.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id                 TEXT PRIMARY KEY,
		full_name          TEXT NOT NULL,
		phone              TEXT NOT NULL UNIQUE,
		preferred_language TEXT NOT NULL DEFAULT 'en',
		loyalty_id         TEXT
	);

	CREATE TABLE IF NOT EXISTS medications (
		id                 TEXT PRIMARY KEY,
		name               TEXT NOT NULL,
		name_he            TEXT NOT NULL,
		active_ingredients TEXT NOT NULL DEFAULT '[]',
		form               TEXT NOT NULL,
		strength           TEXT NOT NULL,
		manufacturer       TEXT NOT NULL,
		otc_or_rx          TEXT NOT NULL,
		label_instructions TEXT NOT NULL,
		warnings           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_medications_name ON medications(name);
	CREATE INDEX IF NOT EXISTS idx_medications_name_he ON medications(name_he);

	CREATE TABLE IF NOT EXISTS inventory (
		id            TEXT PRIMARY KEY,
		medication_id TEXT NOT NULL,
		store_id      TEXT NOT NULL,
		store_name    TEXT NOT NULL,
		quantity      INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		last_updated  TIMESTAMP NOT NULL,
		FOREIGN KEY (medication_id) REFERENCES medications(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_medication ON inventory(medication_id);
	CREATE INDEX IF NOT EXISTS idx_inventory_store ON inventory(store_name);

	CREATE TABLE IF NOT EXISTS prescriptions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		medication_id TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'active',
		refills_left  INTEGER NOT NULL DEFAULT 0,
		expires_at    TIMESTAMP,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (medication_id) REFERENCES medications(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_prescriptions_user ON prescriptions(user_id);

	CREATE TABLE IF NOT EXISTS tickets (
		id            TEXT PRIMARY KEY,
		type          TEXT NOT NULL,
		user_id       TEXT,
		medication_id TEXT,
		store_name    TEXT,
		payload       TEXT NOT NULL DEFAULT '{}',
		status        TEXT NOT NULL DEFAULT 'created',
		created_at    TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id);
	CREATE INDEX IF NOT EXISTS idx_tickets_type ON tickets(type);
	`

	_, err := s.db.Exec(schema)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails
		return uuid.New().String()
	}
	return id.String()
}

// User is a registered pharmacy customer.
type User struct {
	ID                string
	FullName          string
	Phone             string
	PreferredLanguage string
	LoyaltyID         string
}

// Medication is one catalog entry.
type Medication struct {
	ID                string
	Name              string
	NameHE            string
	ActiveIngredients string // JSON array of ingredient names
	Form              string
	Strength          string
	Manufacturer      string
	OTCOrRx           string // "otc" | "rx"
	LabelInstructions string
	Warnings          string
}

// InventoryRow is the stock level of one medication at one store.
type InventoryRow struct {
	ID           string
	MedicationID string
	StoreID      string
	StoreName    string
	Quantity     int
	LastUpdated  time.Time
}

// Ticket is a durable record of a completed workflow (reservation or
// prescription request) used for downstream fulfillment.
type Ticket struct {
	ID           string
	Type         string
	UserID       string
	MedicationID string
	StoreName    string
	Payload      string // JSON object
	Status       string
	CreatedAt    time.Time
}

const medicationCols = `id, name, name_he, active_ingredients, form, strength,
	manufacturer, otc_or_rx, label_instructions, warnings`

func scanMedication(row interface{ Scan(...any) error }) (Medication, error) {
	var m Medication
	err := row.Scan(&m.ID, &m.Name, &m.NameHE, &m.ActiveIngredients, &m.Form,
		&m.Strength, &m.Manufacturer, &m.OTCOrRx, &m.LabelInstructions, &m.Warnings)
	return m, err
}

// MedicationByID looks up a single medication. Returns sql.ErrNoRows
// wrapped when absent.
func (s *Store) MedicationByID(ctx context.Context, id string) (Medication, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+medicationCols+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err != nil {
		return Medication{}, fmt.Errorf("medication %s: %w", id, err)
	}
	return m, nil
}

// MedicationsByExactName returns medications whose English or Hebrew name
// matches exactly (case-insensitive). The caller normalizes the query.
func (s *Store) MedicationsByExactName(ctx context.Context, name string) ([]Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationCols+` FROM medications
		 WHERE lower(name) = ? OR lower(name_he) = ?`, name, name)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()
	return collectMedications(rows)
}

// MedicationsByNameLike returns up to limit medications whose name
// contains the given substring (case-insensitive).
func (s *Store) MedicationsByNameLike(ctx context.Context, substr string, limit int) ([]Medication, error) {
	like := "%" + substr + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+medicationCols+` FROM medications
		 WHERE lower(name) LIKE ? OR lower(name_he) LIKE ?
		 LIMIT ?`, like, like, limit)
	if err != nil {
		return nil, fmt.Errorf("query medications: %w", err)
	}
	defer rows.Close()
	return collectMedications(rows)
}

func collectMedications(rows *sql.Rows) ([]Medication, error) {
	var meds []Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

// Inventory returns stock rows for a medication, optionally filtered by
// store name (case-insensitive, caller-normalized).
func (s *Store) Inventory(ctx context.Context, medicationID, storeName string) ([]InventoryRow, error) {
	query := `SELECT id, medication_id, store_id, store_name, quantity, last_updated
		FROM inventory WHERE medication_id = ?`
	args := []any{medicationID}
	if storeName != "" {
		query += ` AND lower(store_name) = ?`
		args = append(args, storeName)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer rows.Close()

	var items []InventoryRow
	for rows.Next() {
		var it InventoryRow
		if err := rows.Scan(&it.ID, &it.MedicationID, &it.StoreID, &it.StoreName,
			&it.Quantity, &it.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan inventory: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UserByID looks up a user by primary key.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, full_name, phone, preferred_language, COALESCE(loyalty_id, '')
		 FROM users WHERE id = ?`, id))
}

// UserByPhone looks up a user by normalized phone number.
func (s *Store) UserByPhone(ctx context.Context, phone string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, full_name, phone, preferred_language, COALESCE(loyalty_id, '')
		 FROM users WHERE phone = ?`, phone))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FullName, &u.Phone, &u.PreferredLanguage, &u.LoyaltyID)
	if err != nil {
		return User{}, fmt.Errorf("user: %w", err)
	}
	return u, nil
}

// CreateTicket inserts a workflow ticket and returns its id.
func (s *Store) CreateTicket(ctx context.Context, t Ticket) (string, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Status == "" {
		t.Status = "created"
	}
	if t.Payload == "" {
		t.Payload = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, type, user_id, medication_id, store_name, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, nullable(t.UserID), nullable(t.MedicationID), nullable(t.StoreName),
		t.Payload, t.Status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert ticket: %w", err)
	}
	return t.ID, nil
}

// TicketByID fetches one ticket.
func (s *Store) TicketByID(ctx context.Context, id string) (Ticket, error) {
	var t Ticket
	var userID, medicationID, storeName sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, user_id, medication_id, store_name, payload, status, created_at
		 FROM tickets WHERE id = ?`, id).
		Scan(&t.ID, &t.Type, &userID, &medicationID, &storeName, &t.Payload, &t.Status, &t.CreatedAt)
	if err != nil {
		return Ticket{}, fmt.Errorf("ticket %s: %w", id, err)
	}
	t.UserID = userID.String
	t.MedicationID = medicationID.String
	t.StoreName = storeName.String
	return t, nil
}

// ReserveInventory atomically decrements stock and creates a reservation
// ticket. The lookup, the guarded decrement, and the ticket insert run in
// one transaction: either the stock drops and a ticket exists, or neither
// happened. storeName must be caller-normalized (lowercase, collapsed
// whitespace). Returns the ticket id on success, ErrItemNotFound when no
// row matches, ErrInsufficientStock when the row holds less than quantity.
func (s *Store) ReserveInventory(ctx context.Context, medicationID, storeName string, quantity int, userID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin reservation: %w", err)
	}
	defer tx.Rollback()

	var invID, canonicalStore string
	var available int
	err = tx.QueryRowContext(ctx,
		`SELECT id, store_name, quantity FROM inventory
		 WHERE medication_id = ? AND lower(store_name) = ?`,
		medicationID, storeName).Scan(&invID, &canonicalStore, &available)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup inventory: %w", err)
	}
	if available < quantity {
		return "", ErrInsufficientStock
	}

	// The quantity guard repeats in the UPDATE so a concurrent writer
	// that committed between our read and write cannot push stock
	// negative. RowsAffected == 0 means we lost that race.
	res, err := tx.ExecContext(ctx,
		`UPDATE inventory SET quantity = quantity - ?, last_updated = ?
		 WHERE id = ? AND quantity >= ?`,
		quantity, time.Now().UTC(), invID, quantity)
	if err != nil {
		return "", fmt.Errorf("decrement inventory: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("decrement inventory: %w", err)
	}
	if affected == 0 {
		return "", ErrInsufficientStock
	}

	ticketID := NewID()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO tickets (id, type, user_id, medication_id, store_name, payload, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'created', ?)`,
		ticketID, TicketInventoryReservation, userID, medicationID, canonicalStore,
		fmt.Sprintf(`{"quantity": %d}`, quantity), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert reservation ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit reservation: %w", err)
	}
	return ticketID, nil
}

// NormalizeName lowercases a name and collapses internal whitespace,
// matching how catalog lookups compare names.
func NormalizeName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
