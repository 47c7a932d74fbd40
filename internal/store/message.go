package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
)

// ListMessages returns a group's messages sorted by creation time ascending.
func (s *SQLiteStore) ListMessages(groupID string) ([]record.Message, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, group_id, sender_id, reply_to_id, body, file_ref,
			is_pending, is_synced, created_at, updated_at
		FROM messages
		WHERE group_id = ?
		ORDER BY created_at ASC`, groupID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []record.Message
	for rows.Next() {
		var m record.Message
		if err := rows.Scan(&m.ID, &m.ServerID, &m.GroupID, &m.SenderID, &m.ReplyToID,
			&m.Body, &m.FileRef, &m.IsPending, &m.IsSynced, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SaveMessages replaces the group's message list in one transaction.
func (s *SQLiteStore) SaveMessages(groupID string, msgs []record.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save messages: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("clear messages for %s: %w", groupID, err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.ID == "" {
			m.ID = record.TempID()
		}
		m.GroupID = groupID
		if m.CreatedAt == 0 {
			m.CreatedAt = now
		}
		if m.UpdatedAt == 0 {
			m.UpdatedAt = now
		}
		if err := insertMessage(tx, m); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AddMessage appends one message to the group, assigning a temporary local
// id when the message has none, and returns the stored record.
func (s *SQLiteStore) AddMessage(groupID string, m record.Message) (record.Message, error) {
	now := time.Now().UnixMilli()
	if m.ID == "" {
		m.ID = record.TempID()
	}
	m.GroupID = groupID
	if m.CreatedAt == 0 {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if err := insertMessage(s.db, m); err != nil {
		return record.Message{}, err
	}
	return m, nil
}

// execer covers *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertMessage(db execer, m record.Message) error {
	_, err := db.Exec(`
		INSERT INTO messages (id, server_id, group_id, sender_id, reply_to_id, body,
			file_ref, is_pending, is_synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ServerID, m.GroupID, m.SenderID, m.ReplyToID, m.Body,
		m.FileRef, m.IsPending, m.IsSynced, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}
