package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// HistoryItem is the durable summary of a research task the user launched
// or followed up on.
type HistoryItem struct {
	ID           string
	Title        string
	ResearchType string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Delivery statuses.
const (
	DeliveryPending   = "pending"
	DeliveryRunning   = "running"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Delivery is one queued best-effort remote write (cancel, share toggle).
type Delivery struct {
	ID          string
	Kind        string
	TaskID      string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
