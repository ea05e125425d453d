package backup

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/miloview/miloview/internal/store"
)

const insertColumns = `sid, from_number, to_number, body, status, direction,
	date_sent, date_created, price, price_unit, error_code, error_message,
	num_segments, num_media`

// SaveAll replaces the mirror contents with the given snapshot in one
// transaction. Used after a full sync.
func (db *DB) SaveAll(msgs []store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return fmt.Errorf("clear mirror: %w", err)
	}
	if err := insertBatch(tx, msgs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SaveBatch inserts messages the mirror does not hold yet, leaving
// existing rows untouched. Used after incremental syncs.
func (db *DB) SaveBatch(msgs []store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertBatch(tx, msgs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertBatch(tx *sql.Tx, msgs []store.Message) error {
	stmt, err := tx.Prepare(`INSERT INTO messages (` + insertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sid) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, m := range msgs {
		if m.SID == "" {
			continue
		}
		if _, err := stmt.Exec(
			m.SID, m.From, m.To, m.Body, m.Status, m.Direction,
			toMillis(m.DateSent), toMillis(m.DateCreated),
			m.Price, m.PriceUnit, m.ErrorCode, m.ErrorMessage,
			m.NumSegments, m.NumMedia,
		); err != nil {
			return fmt.Errorf("insert %s: %w", m.SID, err)
		}
	}
	return nil
}

// LoadAll reads the whole mirror ordered by sent time ascending.
func (db *DB) LoadAll() ([]store.Message, error) {
	rows, err := db.Query(`SELECT ` + insertColumns + ` FROM messages ORDER BY date_sent ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var sent, created int64
		if err := rows.Scan(
			&m.SID, &m.From, &m.To, &m.Body, &m.Status, &m.Direction,
			&sent, &created, &m.Price, &m.PriceUnit,
			&m.ErrorCode, &m.ErrorMessage, &m.NumSegments, &m.NumMedia,
		); err != nil {
			return nil, err
		}
		m.DateSent = fromMillis(sent)
		m.DateCreated = fromMillis(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Count returns the number of mirrored messages.
func (db *DB) Count() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

// Wipe removes every mirrored message. Used by the cache-clear
// operation before a fresh full sync.
func (db *DB) Wipe() error {
	_, err := db.Exec(`DELETE FROM messages`)
	return err
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
