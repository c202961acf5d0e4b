package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// EnqueueDelivery stores a pending remote write. MaxAttempts defaults to 3.
func (s *Store) EnqueueDelivery(d Delivery) error {
	now := time.Now().UTC()
	runAfter := now
	if !d.RunAfter.IsZero() {
		runAfter = d.RunAfter.UTC()
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	payload := d.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO outbox (id, kind, task_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		d.ID, d.Kind, d.TaskID, payload, DeliveryPending, maxAttempts,
		runAfter.Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// ClaimNextDelivery marks the oldest due pending delivery of one of kinds as
// running and returns it. It returns (nil, nil) when nothing is due.
func (s *Store) ClaimNextDelivery(kinds []string) (*Delivery, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().Format(time.RFC3339)

	args := make([]any, 0, len(kinds)+2)
	args = append(args, DeliveryPending, now)
	for _, k := range kinds {
		args = append(args, k)
	}
	query := `SELECT id, kind, task_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM outbox
		WHERE status = ? AND run_after <= ? AND kind IN (?` + strings.Repeat(",?", len(kinds)-1) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	d, err := scanDelivery(tx.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next delivery: %w", err)
	}

	res, err := tx.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		DeliveryRunning, now, d.ID, DeliveryPending)
	if err != nil {
		return nil, fmt.Errorf("claiming delivery %s: %w", d.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	d.Status = DeliveryRunning
	return &d, nil
}

// CompleteDelivery marks a delivery as delivered.
func (s *Store) CompleteDelivery(id string) error {
	return s.setDeliveryStatus(id, DeliveryDelivered)
}

// FailDelivery records a failed attempt. Until max_attempts is reached the
// delivery goes back to pending with a 2^attempts second backoff.
func (s *Store) FailDelivery(id, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM outbox WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE outbox SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			DeliveryFailed, attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		runAfter := now.Add(time.Duration(math.Pow(2, float64(attempts))) * time.Second)
		_, err = tx.Exec(`UPDATE outbox SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			DeliveryPending, attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// AbandonDelivery records a failure that retrying cannot fix and marks the
// delivery failed regardless of remaining attempts.
func (s *Store) AbandonDelivery(id, errMsg string) error {
	res, err := s.db.Exec(`UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ? WHERE id = ?`,
		DeliveryFailed, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// requeueInterrupted returns deliveries left running by a process that
// exited mid-delivery to pending, due immediately.
func (s *Store) requeueInterrupted() error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`UPDATE outbox SET status = ?, run_after = ?, updated_at = ? WHERE status = ?`,
		DeliveryPending, now, now, DeliveryRunning)
	return err
}

// GetDelivery returns a delivery by id.
func (s *Store) GetDelivery(id string) (Delivery, error) {
	d, err := scanDelivery(s.db.QueryRow(`
		SELECT id, kind, task_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM outbox WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, ErrNotFound
	}
	return d, err
}

// PendingDeliveries counts deliveries not yet delivered or given up on.
func (s *Store) PendingDeliveries() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status IN (?, ?)`,
		DeliveryPending, DeliveryRunning).Scan(&n)
	return n, err
}

func (s *Store) setDeliveryStatus(id, status string) error {
	res, err := s.db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE id = ?`,
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

func scanDelivery(r rowScanner) (Delivery, error) {
	var d Delivery
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := r.Scan(&d.ID, &d.Kind, &d.TaskID, &d.PayloadJSON, &d.Status, &d.Attempts, &d.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Delivery{}, err
	}
	d.LastError = lastError.String

	var err error
	if d.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return Delivery{}, fmt.Errorf("parsing run_after for delivery %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Delivery{}, fmt.Errorf("parsing created_at for delivery %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Delivery{}, fmt.Errorf("parsing updated_at for delivery %s: %w", d.ID, err)
	}
	return d, nil
}
