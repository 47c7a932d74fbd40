package store

import (
	"fmt"
	"time"

	"github.com/tarpai/connect-sync/internal/record"
)

// ListPrompts returns prompts sorted by creation time descending.
func (s *SQLiteStore) ListPrompts() ([]record.Prompt, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, title, body, is_synced, created_at, updated_at
		FROM prompts
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var prompts []record.Prompt
	for rows.Next() {
		var p record.Prompt
		if err := rows.Scan(&p.ID, &p.ServerID, &p.Title, &p.Body,
			&p.IsSynced, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// SavePrompts replaces the prompt set in one transaction.
func (s *SQLiteStore) SavePrompts(prompts []record.Prompt) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save prompts: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM prompts`); err != nil {
		return fmt.Errorf("clear prompts: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, p := range prompts {
		if p.ID == "" {
			p.ID = record.TempID()
		}
		if p.CreatedAt == 0 {
			p.CreatedAt = now
		}
		if p.UpdatedAt == 0 {
			p.UpdatedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO prompts (id, server_id, title, body, is_synced, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.ServerID, p.Title, p.Body, p.IsSynced, p.CreatedAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("insert prompt %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// ListCategories returns cached categories sorted by creation time descending.
func (s *SQLiteStore) ListCategories() ([]record.Category, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, name, is_synced, created_at, updated_at
		FROM categories
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var categories []record.Category
	for rows.Next() {
		var c record.Category
		if err := rows.Scan(&c.ID, &c.ServerID, &c.Name, &c.IsSynced, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// SaveCategories replaces the category set in one transaction.
func (s *SQLiteStore) SaveCategories(categories []record.Category) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save categories: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM categories`); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range categories {
		if c.ID == "" {
			c.ID = record.TempID()
		}
		if c.CreatedAt == 0 {
			c.CreatedAt = now
		}
		if c.UpdatedAt == 0 {
			c.UpdatedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO categories (id, server_id, name, is_synced, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.ServerID, c.Name, c.IsSynced, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListUsers returns cached user profiles sorted by creation time descending.
func (s *SQLiteStore) ListUsers() ([]record.User, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, username, display_name, avatar_url, is_synced, created_at, updated_at
		FROM users
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []record.User
	for rows.Next() {
		var u record.User
		if err := rows.Scan(&u.ID, &u.ServerID, &u.Username, &u.DisplayName,
			&u.AvatarURL, &u.IsSynced, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SaveUsers replaces the cached user set in one transaction.
func (s *SQLiteStore) SaveUsers(users []record.User) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save users: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM users`); err != nil {
		return fmt.Errorf("clear users: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, u := range users {
		if u.ID == "" {
			u.ID = record.TempID()
		}
		if u.CreatedAt == 0 {
			u.CreatedAt = now
		}
		if u.UpdatedAt == 0 {
			u.UpdatedAt = now
		}
		if _, err := tx.Exec(`
			INSERT INTO users (id, server_id, username, display_name, avatar_url, is_synced, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.ServerID, u.Username, u.DisplayName, u.AvatarURL,
			u.IsSynced, u.CreatedAt, u.UpdatedAt); err != nil {
			return fmt.Errorf("insert user %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}
