package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the Store implementation backed by SQLite. The database
// is opened in WAL mode with immediate transactions, so an order
// transaction takes the write lock up front and concurrent reconciliation
// attempts are strictly ordered even across processes sharing the file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// NewSQLiteStore opens (and if needed creates) the checkout database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// _txlock=immediate makes every transaction a writer from the start,
	// which is what gives WithOrderLock its ordering guarantee.
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=20000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db, path: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_key TEXT NOT NULL,
		status INTEGER NOT NULL DEFAULT 1,
		transaction_id TEXT NOT NULL DEFAULT '',
		total REAL NOT NULL,
		currency TEXT NOT NULL,
		billing_email TEXT NOT NULL DEFAULT '',
		membership_id INTEGER NOT NULL DEFAULT 0,
		has_subscription INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS payment_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id INTEGER NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		requested_amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		card_last4 TEXT NOT NULL DEFAULT '',
		gateway_id INTEGER NOT NULL DEFAULT 0,
		accepted INTEGER NOT NULL DEFAULT 0,
		test_mode INTEGER NOT NULL DEFAULT 1,
		type TEXT NOT NULL DEFAULT '',
		text_on_statement TEXT NOT NULL DEFAULT '',
		acquirer TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		balance INTEGER NOT NULL DEFAULT 0,
		last_qp_status TEXT NOT NULL DEFAULT '',
		last_qp_status_msg TEXT NOT NULL DEFAULT '',
		last_aq_status TEXT NOT NULL DEFAULT '',
		last_aq_status_msg TEXT NOT NULL DEFAULT '',
		accepted_at DATETIME,
		captured_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_order ON payment_attempts(order_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_gateway ON payment_attempts(gateway_id);
	`
	_, err := s.db.Exec(query)
	return err
}

// WithOrderLock implements Store. The immediate transaction is the row
// lock: the order is re-read inside it, fn's mutations go through the
// transaction, and everything commits or rolls back as one unit.
func (s *SQLiteStore) WithOrderLock(ctx context.Context, orderID int64, fn func(tx Tx, order *Order) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin order transaction: %w", err)
	}

	tx := &sqliteTx{q: sqlTx}
	order, err := getOrder(ctx, sqlTx, orderID)
	if err != nil {
		sqlTx.Rollback()
		return err
	}

	if err := fn(tx, order); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	return createAttempt(ctx, s.db, attempt)
}

func (s *SQLiteStore) SaveAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	return saveAttempt(ctx, s.db, attempt)
}

func (s *SQLiteStore) LatestAttempt(ctx context.Context, orderID int64) (*PaymentAttempt, error) {
	return latestAttempt(ctx, s.db, orderID)
}

func (s *SQLiteStore) HasAcceptedAttempt(ctx context.Context, orderID int64) (bool, error) {
	return hasAcceptedAttempt(ctx, s.db, orderID)
}

func (s *SQLiteStore) DeleteAttempt(ctx context.Context, id int64) error {
	return deleteAttempt(ctx, s.db, id)
}

func (s *SQLiteStore) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, s.db, id)
}

func (s *SQLiteStore) SaveOrder(ctx context.Context, order *Order) error {
	return saveOrder(ctx, s.db, order)
}

func (s *SQLiteStore) CreateOrder(ctx context.Context, order *Order) error {
	return createOrder(ctx, s.db, order)
}

// sqliteTx exposes the same operations bound to an open transaction.
type sqliteTx struct {
	q *sql.Tx
}

func (t *sqliteTx) CreateAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	return createAttempt(ctx, t.q, attempt)
}

func (t *sqliteTx) SaveAttempt(ctx context.Context, attempt *PaymentAttempt) error {
	return saveAttempt(ctx, t.q, attempt)
}

func (t *sqliteTx) LatestAttempt(ctx context.Context, orderID int64) (*PaymentAttempt, error) {
	return latestAttempt(ctx, t.q, orderID)
}

func (t *sqliteTx) HasAcceptedAttempt(ctx context.Context, orderID int64) (bool, error) {
	return hasAcceptedAttempt(ctx, t.q, orderID)
}

func (t *sqliteTx) DeleteAttempt(ctx context.Context, id int64) error {
	return deleteAttempt(ctx, t.q, id)
}

func (t *sqliteTx) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return getOrder(ctx, t.q, id)
}

func (t *sqliteTx) SaveOrder(ctx context.Context, order *Order) error {
	return saveOrder(ctx, t.q, order)
}

func (t *sqliteTx) CreateOrder(ctx context.Context, order *Order) error {
	return createOrder(ctx, t.q, order)
}

func createAttempt(ctx context.Context, q querier, a *PaymentAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO payment_attempts (
			order_id, requested_amount, currency, card_last4, gateway_id,
			accepted, test_mode, type, text_on_statement, acquirer, state, balance,
			last_qp_status, last_qp_status_msg, last_aq_status, last_aq_status_msg,
			accepted_at, captured_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.OrderID, a.RequestedAmount, a.Currency, a.CardLast4, a.GatewayID,
		a.Accepted, a.TestMode, a.Type, a.TextOnStatement, a.Acquirer, a.State, a.Balance,
		a.LastQPStatus, a.LastQPStatusMsg, a.LastAQStatus, a.LastAQStatusMsg,
		a.AcceptedAt, a.CapturedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read attempt id: %w", err)
	}
	a.ID = id
	return nil
}

func saveAttempt(ctx context.Context, q querier, a *PaymentAttempt) error {
	_, err := q.ExecContext(ctx, `
		UPDATE payment_attempts SET
			requested_amount = ?, currency = ?, card_last4 = ?, gateway_id = ?,
			accepted = ?, test_mode = ?, type = ?, text_on_statement = ?,
			acquirer = ?, state = ?, balance = ?,
			last_qp_status = ?, last_qp_status_msg = ?,
			last_aq_status = ?, last_aq_status_msg = ?,
			accepted_at = ?, captured_at = ?
		WHERE id = ?`,
		a.RequestedAmount, a.Currency, a.CardLast4, a.GatewayID,
		a.Accepted, a.TestMode, a.Type, a.TextOnStatement,
		a.Acquirer, a.State, a.Balance,
		a.LastQPStatus, a.LastQPStatusMsg,
		a.LastAQStatus, a.LastAQStatusMsg,
		a.AcceptedAt, a.CapturedAt,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment attempt %d: %w", a.ID, err)
	}
	return nil
}

const attemptColumns = `id, order_id, requested_amount, currency, card_last4, gateway_id,
	accepted, test_mode, type, text_on_statement, acquirer, state, balance,
	last_qp_status, last_qp_status_msg, last_aq_status, last_aq_status_msg,
	accepted_at, captured_at, created_at`

func latestAttempt(ctx context.Context, q querier, orderID int64) (*PaymentAttempt, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE order_id = ? ORDER BY id DESC LIMIT 1`,
		orderID)
	return scanAttempt(row)
}

func scanAttempt(row *sql.Row) (*PaymentAttempt, error) {
	var a PaymentAttempt
	err := row.Scan(
		&a.ID, &a.OrderID, &a.RequestedAmount, &a.Currency, &a.CardLast4, &a.GatewayID,
		&a.Accepted, &a.TestMode, &a.Type, &a.TextOnStatement, &a.Acquirer, &a.State, &a.Balance,
		&a.LastQPStatus, &a.LastQPStatusMsg, &a.LastAQStatus, &a.LastAQStatusMsg,
		&a.AcceptedAt, &a.CapturedAt, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan payment attempt: %w", err)
	}
	return &a, nil
}

func hasAcceptedAttempt(ctx context.Context, q querier, orderID int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM payment_attempts WHERE order_id = ? AND accepted = 1`,
		orderID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count accepted attempts: %w", err)
	}
	return count > 0, nil
}

func deleteAttempt(ctx context.Context, q querier, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM payment_attempts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete payment attempt %d: %w", id, err)
	}
	return nil
}

func getOrder(ctx context.Context, q querier, id int64) (*Order, error) {
	var o Order
	err := q.QueryRowContext(ctx, `
		SELECT id, order_key, status, transaction_id, total, currency,
			billing_email, membership_id, has_subscription
		FROM orders WHERE id = ?`, id).Scan(
		&o.ID, &o.Key, &o.Status, &o.TransactionID, &o.Total, &o.Currency,
		&o.BillingEmail, &o.MembershipID, &o.HasSubscription,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %d: %w", id, err)
	}
	return &o, nil
}

func saveOrder(ctx context.Context, q querier, o *Order) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orders SET status = ?, transaction_id = ?, membership_id = ?, has_subscription = ?
		WHERE id = ?`,
		o.Status, o.TransactionID, o.MembershipID, o.HasSubscription, o.ID)
	if err != nil {
		return fmt.Errorf("failed to update order %d: %w", o.ID, err)
	}
	return nil
}

func createOrder(ctx context.Context, q querier, o *Order) error {
	res, err := q.ExecContext(ctx, `
		INSERT INTO orders (order_key, status, transaction_id, total, currency,
			billing_email, membership_id, has_subscription)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Key, o.Status, o.TransactionID, o.Total, o.Currency,
		o.BillingEmail, o.MembershipID, o.HasSubscription,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read order id: %w", err)
	}
	o.ID = id
	return nil
}
