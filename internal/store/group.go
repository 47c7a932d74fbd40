package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
)

// ListGroups returns groups sorted by last message time descending,
// falling back to creation time for groups with no messages yet.
func (s *SQLiteStore) ListGroups() ([]record.Group, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, name, member_count, unread_count,
			last_message_at, last_message_preview, last_message_sender,
			is_synced, created_at, updated_at
		FROM groups
		ORDER BY COALESCE(NULLIF(last_message_at, 0), created_at) DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var groups []record.Group
	for rows.Next() {
		var g record.Group
		if err := rows.Scan(&g.ID, &g.ServerID, &g.Name, &g.MemberCount, &g.UnreadCount,
			&g.LastMessageAt, &g.LastMessagePreview, &g.LastMessageSender,
			&g.IsSynced, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// SaveGroups replaces the whole group set in one transaction.
func (s *SQLiteStore) SaveGroups(groups []record.Group) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save groups: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM groups`); err != nil {
		return fmt.Errorf("clear groups: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, g := range groups {
		if g.ID == "" {
			g.ID = record.TempID()
		}
		if g.CreatedAt == 0 {
			g.CreatedAt = now
		}
		if g.UpdatedAt == 0 {
			g.UpdatedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO groups (id, server_id, name, member_count, unread_count,
				last_message_at, last_message_preview, last_message_sender,
				is_synced, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.ServerID, g.Name, g.MemberCount, g.UnreadCount,
			g.LastMessageAt, g.LastMessagePreview, g.LastMessageSender,
			g.IsSynced, g.CreatedAt, g.UpdatedAt); err != nil {
			return fmt.Errorf("insert group %s: %w", g.ID, err)
		}
	}
	return tx.Commit()
}

// UpdateGroup merges patch into the group matching id by local or server
// id and bumps updated_at. Absent groups are a no-op, not an error.
func (s *SQLiteStore) UpdateGroup(id string, patch record.GroupPatch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin update group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var g record.Group
	err = tx.QueryRow(`
		SELECT id, server_id, name, member_count, unread_count,
			last_message_at, last_message_preview, last_message_sender,
			is_synced, created_at, updated_at
		FROM groups WHERE id = ? OR server_id = ?`, id, id).
		Scan(&g.ID, &g.ServerID, &g.Name, &g.MemberCount, &g.UnreadCount,
			&g.LastMessageAt, &g.LastMessagePreview, &g.LastMessageSender,
			&g.IsSynced, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load group %s: %w", id, err)
	}

	patch.Apply(&g)
	g.UpdatedAt = time.Now().UnixMilli()

	if _, err := tx.Exec(`
		UPDATE groups SET server_id = ?, name = ?, member_count = ?, unread_count = ?,
			last_message_at = ?, last_message_preview = ?, last_message_sender = ?,
			is_synced = ?, updated_at = ?
		WHERE id = ?`,
		g.ServerID, g.Name, g.MemberCount, g.UnreadCount,
		g.LastMessageAt, g.LastMessagePreview, g.LastMessageSender,
		g.IsSynced, g.UpdatedAt, g.ID); err != nil {
		return fmt.Errorf("update group %s: %w", id, err)
	}
	return tx.Commit()
}
