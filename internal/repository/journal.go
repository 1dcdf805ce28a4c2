package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/goerajat/online-betting-sub000/internal/model"
)

const journalDDL = `
CREATE TABLE IF NOT EXISTS order_events (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	kind            TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	client_order_id TEXT,
	ticker          TEXT NOT NULL,
	side            TEXT,
	action          TEXT,
	status          TEXT,
	yes_price       INTEGER,
	no_price        INTEGER,
	remaining_count INTEGER,
	fill_count      INTEGER,
	recorded_at     DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_events_order ON order_events(order_id, id);
CREATE INDEX IF NOT EXISTS idx_order_events_ticker ON order_events(ticker, recorded_at);
`

// JournalEntry is one row of the order journal.
type JournalEntry struct {
	Kind       string
	Order      model.Order
	RecordedAt time.Time
}

// OrderJournal appends every order change to a local SQLite file.
type OrderJournal struct {
	db  *sql.DB
	now func() time.Time
}

func OpenOrderJournal(path string) (*OrderJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	// WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec(journalDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migration: %w", err)
	}
	return &OrderJournal{db: db, now: time.Now}, nil
}

func (j *OrderJournal) Close() error {
	return j.db.Close()
}

func (j *OrderJournal) Record(ctx context.Context, kind string, o model.Order) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO order_events (kind, order_id, client_order_id, ticker, side, action, status,
			yes_price, no_price, remaining_count, fill_count, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kind, o.OrderID, o.ClientOrderID, o.Ticker, string(o.Side), string(o.Action), string(o.Status),
		o.YesPrice, o.NoPrice, o.RemainingCount, o.FillCount, j.now().UTC(),
	)
	return err
}

// History returns the journal for one order, oldest first.
func (j *OrderJournal) History(ctx context.Context, orderID string) ([]JournalEntry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT kind, order_id, client_order_id, ticker, side, action, status,
			yes_price, no_price, remaining_count, fill_count, recorded_at
		FROM order_events WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var e JournalEntry
		var clientID, side, action, status sql.NullString
		if err := rows.Scan(&e.Kind, &e.Order.OrderID, &clientID, &e.Order.Ticker, &side, &action, &status,
			&e.Order.YesPrice, &e.Order.NoPrice, &e.Order.RemainingCount, &e.Order.FillCount, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Order.ClientOrderID = clientID.String
		e.Order.Side = model.Side(side.String)
		e.Order.Action = model.Action(action.String)
		e.Order.Status = model.OrderStatus(status.String)
		out = append(out, e)
	}
	return out, rows.Err()
}
