package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SaveHistory inserts item or, when the id already exists, updates its
// title, type and status and moves it to the front. The original created_at
// is kept. Rows beyond the history limit are trimmed oldest first.
func (s *Store) SaveHistory(item HistoryItem) error {
	if item.ID == "" {
		return errors.New("history item id is required")
	}
	now := time.Now().UTC()
	createdAt := item.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	status := item.Status
	if status == "" {
		status = "queued"
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning history save: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO history (id, title, research_type, status, created_at, updated_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM history))
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			research_type = excluded.research_type,
			status = excluded.status,
			updated_at = excluded.updated_at,
			seq = excluded.seq`,
		item.ID, item.Title, item.ResearchType, status,
		createdAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving history item %s: %w", item.ID, err)
	}

	if _, err := tx.Exec(`
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY seq DESC LIMIT ?
		)`, s.historyLimit); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return tx.Commit()
}

// UpdateHistoryStatus sets the status of an existing entry. It returns
// ErrNotFound when the task was never recorded (public or example views).
func (s *Store) UpdateHistoryStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE history SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetHistory returns a single entry by id.
func (s *Store) GetHistory(id string) (HistoryItem, error) {
	row := s.db.QueryRow(`
		SELECT id, title, research_type, status, created_at, updated_at
		FROM history WHERE id = ?`, id)
	item, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryItem{}, ErrNotFound
	}
	return item, err
}

// ListHistory returns up to limit entries, most recent first. limit <= 0
// returns everything kept.
func (s *Store) ListHistory(limit int) ([]HistoryItem, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	rows, err := s.db.Query(`
		SELECT id, title, research_type, status, created_at, updated_at
		FROM history ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []HistoryItem
	for rows.Next() {
		item, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHistory(r rowScanner) (HistoryItem, error) {
	var item HistoryItem
	var createdAt, updatedAt string
	if err := r.Scan(&item.ID, &item.Title, &item.ResearchType, &item.Status, &createdAt, &updatedAt); err != nil {
		return HistoryItem{}, err
	}
	var err error
	if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return HistoryItem{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if item.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return HistoryItem{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return item, nil
}
