package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_messages (
	message_id     TEXT PRIMARY KEY,
	queue          TEXT NOT NULL,
	body           BLOB NOT NULL,
	receipt        TEXT NOT NULL DEFAULT '',
	visible_at     TIMESTAMP NOT NULL,
	delivery_count INTEGER NOT NULL DEFAULT 0,
	enqueued_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_messages_visible
	ON queue_messages(queue, visible_at);

CREATE TABLE IF NOT EXISTS queue_dead_letters (
	message_id     TEXT PRIMARY KEY,
	queue          TEXT NOT NULL,
	body           BLOB NOT NULL,
	delivery_count INTEGER NOT NULL,
	dead_at        TIMESTAMP NOT NULL
);
`

// SQLiteBroker owns the backing database for any number of named queues.
type SQLiteBroker struct {
	db *sql.DB
}

// OpenSQLite opens or creates the queue database at path.
func OpenSQLite(path string) (*SQLiteBroker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// SQLite allows a single writer; a pool of one avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply queue schema: %w", err)
	}
	return &SQLiteBroker{db: db}, nil
}

func (b *SQLiteBroker) Close() error { return b.db.Close() }

// Queue returns the named queue. A limit of zero falls back to
// DefaultMaxDeliveries.
func (b *SQLiteBroker) Queue(name string, maxDeliveries int) *SQLiteQueue {
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	return &SQLiteQueue{db: b.db, name: name, maxDeliveries: maxDeliveries, now: time.Now}
}

// SQLiteQueue is a durable Queue backed by a SQLiteBroker table.
type SQLiteQueue struct {
	db            *sql.DB
	name          string
	maxDeliveries int
	now           func() time.Time
}

func (q *SQLiteQueue) Send(ctx context.Context, body []byte) error {
	now := q.now().UTC()
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO queue_messages (message_id, queue, body, visible_at, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), q.name, body, now, now)
	return err
}

func (q *SQLiteQueue) Receive(ctx context.Context, max int, visibility time.Duration) ([]Message, error) {
	now := q.now().UTC()
	rows, err := q.db.QueryContext(ctx, `
		SELECT message_id, body, delivery_count
		FROM queue_messages
		WHERE queue = ? AND visible_at <= ?
		ORDER BY enqueued_at, rowid
		LIMIT ?
	`, q.name, now, max)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		id         string
		body       []byte
		deliveries int
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.body, &c.deliveries); err != nil {
			rows.Close()
			return nil, err
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Message
	for _, c := range candidates {
		if c.deliveries >= q.maxDeliveries {
			if err := q.deadLetter(ctx, c.id, now); err != nil {
				return out, err
			}
			continue
		}
		receipt := uuid.NewString()
		// Guard on visible_at so a concurrent receiver cannot double-lease.
		res, err := q.db.ExecContext(ctx, `
			UPDATE queue_messages
			SET receipt = ?, visible_at = ?, delivery_count = delivery_count + 1
			WHERE message_id = ? AND visible_at <= ?
		`, receipt, now.Add(visibility), c.id, now)
		if err != nil {
			return out, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return out, err
		}
		if n == 0 {
			continue
		}
		out = append(out, Message{
			ID:            c.id,
			Body:          c.body,
			Receipt:       receipt,
			DeliveryCount: c.deliveries + 1,
		})
	}
	return out, nil
}

// deadLetter moves an exhausted message to the dead-letter table.
func (q *SQLiteQueue) deadLetter(ctx context.Context, messageID string, now time.Time) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO queue_dead_letters (message_id, queue, body, delivery_count, dead_at)
		SELECT message_id, queue, body, delivery_count, ?
		FROM queue_messages WHERE message_id = ?
	`, now, messageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM queue_messages WHERE message_id = ?`, messageID); err != nil {
		return err
	}
	return tx.Commit()
}

func (q *SQLiteQueue) Delete(ctx context.Context, receipt string) error {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queue_messages
		WHERE queue = ? AND receipt = ? AND visible_at > ?
	`, q.name, receipt, q.now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrReceiptExpired
	}
	return nil
}

func (q *SQLiteQueue) DeadLetters(ctx context.Context) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT message_id, body, delivery_count
		FROM queue_dead_letters
		WHERE queue = ? ORDER BY dead_at
	`, q.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Body, &m.DeliveryCount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
