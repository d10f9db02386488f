// Package sqlstore keeps records in PostgreSQL (pgx) or SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/payscan/internal/domain"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Store is a Repository over a SQL database.
type Store struct {
	db *sqlx.DB
}

// Open connects with the given driver and makes sure the schema exists.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: connecting to %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps :memory: databases alive and serializes writers
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection. The schema must already exist.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) migrate(ctx context.Context) error {
	seq := "seq INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.db.DriverName() == DriverPostgres {
		seq = "seq BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transactions (
			` + seq + `,
			id TEXT NOT NULL UNIQUE,
			owner_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			date_time TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL DEFAULT 'credit',
			transaction_id TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			receiver_name TEXT NOT NULL DEFAULT '',
			receiver_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS transactions_by_owner ON transactions (owner_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// row is the column layout of the transactions table.
type row struct {
	ID            string `db:"id"`
	OwnerID       string `db:"owner_id"`
	Amount        string `db:"amount"`
	DateTime      string `db:"date_time"`
	Method        string `db:"method"`
	Type          string `db:"type"`
	TransactionID string `db:"transaction_id"`
	SenderName    string `db:"sender_name"`
	SenderID      string `db:"sender_id"`
	ReceiverName  string `db:"receiver_name"`
	ReceiverID    string `db:"receiver_id"`
}

const columns = `id, owner_id, amount, date_time, method, type, transaction_id,
	sender_name, sender_id, receiver_name, receiver_id`

func toRow(rec domain.Record) row {
	return row{
		ID:            rec.ID,
		OwnerID:       rec.OwnerID,
		Amount:        rec.Amount.String(),
		DateTime:      rec.DateTime.UTC().Format(time.RFC3339Nano),
		Method:        rec.Method,
		Type:          string(rec.Type),
		TransactionID: rec.TransactionID,
		SenderName:    rec.SenderName,
		SenderID:      rec.SenderID,
		ReceiverName:  rec.ReceiverName,
		ReceiverID:    rec.ReceiverID,
	}
}

func (r row) record() (domain.Record, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: parsing amount %q: %w", r.ID, r.Amount, err)
	}
	dt, err := time.Parse(time.RFC3339Nano, r.DateTime)
	if err != nil {
		return domain.Record{}, fmt.Errorf("record %s: parsing date_time %q: %w", r.ID, r.DateTime, err)
	}
	return domain.Record{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Amount:        amount,
		DateTime:      dt,
		Method:        r.Method,
		Type:          domain.TransactionType(r.Type),
		TransactionID: r.TransactionID,
		SenderName:    r.SenderName,
		SenderID:      r.SenderID,
		ReceiverName:  r.ReceiverName,
		ReceiverID:    r.ReceiverID,
	}, nil
}

// ListByOwner returns the owner's records, newest insertion first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]domain.Record, error) {
	var rows []row
	query := s.db.Rebind(`SELECT ` + columns + ` FROM transactions WHERE owner_id = ? ORDER BY seq DESC`)
	if err := s.db.SelectContext(ctx, &rows, query, ownerID); err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}

	out := make([]domain.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("ListByOwner: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Get returns the record with the given id, or nil when there is none.
func (s *Store) Get(ctx context.Context, id string) (*domain.Record, error) {
	var r row
	query := s.db.Rebind(`SELECT ` + columns + ` FROM transactions WHERE id = ?`)
	if err := s.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("Get: %w", err)
	}

	rec, err := r.record()
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &rec, nil
}

// Insert stores a new record.
func (s *Store) Insert(ctx context.Context, rec domain.Record) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO transactions (`+columns+`)
		VALUES (:id, :owner_id, :amount, :date_time, :method, :type, :transaction_id,
			:sender_name, :sender_id, :receiver_name, :receiver_id)`, toRow(rec))
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Patch updates only the columns p sets, in one statement.
func (s *Store) Patch(ctx context.Context, id string, p domain.Patch) error {
	sets, args := patchColumns(p)
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := s.db.Rebind(`UPDATE transactions SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("Patch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("Patch: record %s not found", id)
	}
	return nil
}

// patchColumns returns "column = ?" assignments and their arguments for the
// set fields of p. id and owner_id are never among them.
func patchColumns(p domain.Patch) ([]string, []interface{}) {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if p.Amount != nil {
		add("amount", p.Amount.String())
	}
	if p.DateTime != nil {
		add("date_time", p.DateTime.UTC().Format(time.RFC3339Nano))
	}
	if p.Method != nil {
		add("method", *p.Method)
	}
	if p.Type != nil {
		add("type", string(*p.Type))
	}
	if p.TransactionID != nil {
		add("transaction_id", *p.TransactionID)
	}
	if p.SenderName != nil {
		add("sender_name", *p.SenderName)
	}
	if p.SenderID != nil {
		add("sender_id", *p.SenderID)
	}
	if p.ReceiverName != nil {
		add("receiver_name", *p.ReceiverName)
	}
	if p.ReceiverID != nil {
		add("receiver_id", *p.ReceiverID)
	}
	return sets, args
}

// Delete removes a record if present.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM transactions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
