package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tarpai/connect-sync/internal/record"
)

// QueueAction persists a new offline action with retry count zero and a
// stable client key the server deduplicates on.
func (s *SQLiteStore) QueueAction(kind record.ActionKind, payload []byte) (record.Action, error) {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	now := time.Now().UnixMilli()
	a := record.Action{
		ID:         record.ActionID(),
		ClientKey:  uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.Exec(`
		INSERT INTO offline_actions (id, client_key, kind, payload, retry_count,
			max_retries, is_synced, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, 0, '', ?, ?)`,
		a.ID, a.ClientKey, string(a.Kind), string(a.Payload), a.MaxRetries, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return record.Action{}, fmt.Errorf("queue action: %w", err)
	}
	return a, nil
}

// PendingActions returns unsynced actions below their retry ceiling, in
// enqueue order.
func (s *SQLiteStore) PendingActions() ([]record.Action, error) {
	return s.queryActions(`is_synced = 0 AND retry_count < max_retries`)
}

// FailedActions returns terminal actions that exhausted their retries.
// They stay queryable for diagnostics until explicitly cleared.
func (s *SQLiteStore) FailedActions() ([]record.Action, error) {
	return s.queryActions(`is_synced = 0 AND retry_count >= max_retries`)
}

func (s *SQLiteStore) queryActions(where string) ([]record.Action, error) {
	rows, err := s.db.Query(`
		SELECT id, client_key, kind, payload, retry_count, max_retries,
			is_synced, last_error, created_at, updated_at
		FROM offline_actions
		WHERE ` + where + `
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []record.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// MarkActionSynced flips the action to synced. Absent ids are a no-op.
func (s *SQLiteStore) MarkActionSynced(id string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`UPDATE offline_actions SET is_synced = 1, updated_at = ? WHERE id = ?`, now, id)
	return err
}

// BumpActionRetry increments the retry counter, recording the error, and
// returns the updated action. The counter never exceeds max_retries.
func (s *SQLiteStore) BumpActionRetry(id, errMsg string) (record.Action, error) {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		UPDATE offline_actions
		SET retry_count = MIN(retry_count + 1, max_retries), last_error = ?, updated_at = ?
		WHERE id = ?`, errMsg, now, id)
	if err != nil {
		return record.Action{}, fmt.Errorf("bump retry %s: %w", id, err)
	}

	row := s.db.QueryRow(`
		SELECT id, client_key, kind, payload, retry_count, max_retries,
			is_synced, last_error, created_at, updated_at
		FROM offline_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return record.Action{}, nil
	}
	if err != nil {
		return record.Action{}, fmt.Errorf("reload action %s: %w", id, err)
	}
	return a, nil
}

// RemoveAction deletes the action. Absent ids are a no-op.
func (s *SQLiteStore) RemoveAction(id string) error {
	_, err := s.db.Exec(`DELETE FROM offline_actions WHERE id = ?`, id)
	return err
}

// ClearActions empties the action queue unconditionally. Domain records
// are untouched.
func (s *SQLiteStore) ClearActions() error {
	_, err := s.db.Exec(`DELETE FROM offline_actions`)
	return err
}

// Cleanup deletes synced actions older than the retention window and
// reports how many were removed. Unsynced actions of any age remain.
func (s *SQLiteStore) Cleanup(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM offline_actions WHERE is_synced = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup actions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SetCheckpoint upserts a reconciliation cursor.
func (s *SQLiteStore) SetCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint returns the cursor value, or "" when the key is absent.
func (s *SQLiteStore) GetCheckpoint(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (record.Action, error) {
	var a record.Action
	var kind, payload string
	err := row.Scan(&a.ID, &a.ClientKey, &kind, &payload, &a.RetryCount,
		&a.MaxRetries, &a.IsSynced, &a.LastError, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return record.Action{}, err
	}
	a.Kind = record.ActionKind(kind)
	a.Payload = []byte(payload)
	return a, nil
}
