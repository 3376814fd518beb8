// Copyright 2026 © The VisionSync Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SQLStore keeps sessions in a SQLite table.
type SQLStore struct {
	db    *sql.DB
	table string
	cfg   StoreConfig
}

var _ ConversationStore = (*SQLStore)(nil)

// OpenSQLite opens (or creates) a SQLite database file for history storage.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLStore ensures the schema exists. An empty table defaults to
// "conversation_messages".
func NewSQLStore(ctx context.Context, db *sql.DB, table string, cfg StoreConfig) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if table == "" {
		table = "conversation_messages"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	s := &SQLStore{db: db, table: table, cfg: cfg}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_session ON %[1]s(session_id, seq);
	`, table))
	if err != nil {
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, sessionID string, msgs []Message) error {
	q := fmt.Sprintf(`INSERT INTO %s (id, session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`, s.table)
	for _, msg := range msgs {
		msg.fill(sessionID)
		var md sql.NullString
		if msg.Metadata != nil {
			b, err := json.Marshal(msg.Metadata)
			if err != nil {
				return err
			}
			md = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, q, msg.ID, sessionID, msg.Role, msg.Content, md, msg.CreatedAt.UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, msgs ...Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error { return s.insert(ctx, tx, sessionID, msgs) })
}

func (s *SQLStore) Replace(ctx context.Context, sessionID string, msgs []Message) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), sessionID); err != nil {
			return err
		}
		return s.insert(ctx, tx, sessionID, msgs)
	})
}

func (s *SQLStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	msgs, err := s.query(ctx, fmt.Sprintf(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM %s WHERE session_id = ? ORDER BY seq ASC`, s.table), sessionID)
	if err != nil {
		return nil, err
	}
	if s.cfg.Strategy != nil && len(msgs) > 0 {
		return s.cfg.Strategy.Truncate(ctx, msgs)
	}
	return msgs, nil
}

func (s *SQLStore) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	return s.query(ctx, fmt.Sprintf(`
		SELECT id, session_id, role, content, metadata, created_at FROM (
			SELECT seq, id, session_id, role, content, metadata, created_at
			FROM %s WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`, s.table), sessionID, limit)
}

func (s *SQLStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE session_id = ?`, s.table), sessionID)
	return err
}

func (s *SQLStore) Prune(ctx context.Context, sessionID string, olderThan time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE session_id = ? AND created_at <= ?`, s.table),
		sessionID, time.Now().Add(-olderThan).UnixNano())
	return err
}

func (s *SQLStore) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT session_id FROM %s ORDER BY session_id`, s.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			md      sql.NullString
			created int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &md, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(0, created)
		if md.Valid && md.String != "" {
			if err := json.Unmarshal([]byte(md.String), &m.Metadata); err != nil {
				m.Metadata = nil
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
