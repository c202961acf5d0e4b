package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/deepdesk/internal/storage"
)

// Delivery kinds.
const (
	KindCancel = "cancel"
	KindShare  = "share"
)

// Kinds lists every kind the worker delivers.
var Kinds = []string{KindCancel, KindShare}

// Store abstracts the outbox table.
type Store interface {
	EnqueueDelivery(d storage.Delivery) error
	ClaimNextDelivery(kinds []string) (*storage.Delivery, error)
	CompleteDelivery(id string) error
	FailDelivery(id, errMsg string) error
	AbandonDelivery(id, errMsg string) error
	GetDelivery(id string) (storage.Delivery, error)
	PendingDeliveries() (int, error)
}

// Queue records best-effort remote writes for the Worker to deliver.
type Queue struct {
	store  Store
	wake   chan struct{}
	logger *slog.Logger
}

// NewQueue creates a Queue over store.
func NewQueue(store Store) *Queue {
	return &Queue{
		store:  store,
		wake:   make(chan struct{}, 1),
		logger: slog.Default(),
	}
}

// Wakeup fires after each enqueue so a worker can deliver without waiting
// for its next poll.
func (q *Queue) Wakeup() <-chan struct{} {
	return q.wake
}

// RequestCancel queues remote cancellation of taskID.
func (q *Queue) RequestCancel(ctx context.Context, taskID string) error {
	return q.enqueue(KindCancel, taskID, nil)
}

// RequestShare queues a share toggle for taskID.
func (q *Queue) RequestShare(ctx context.Context, taskID string, isPublic bool) error {
	return q.enqueue(KindShare, taskID, sharePayload{IsPublic: isPublic})
}

type sharePayload struct {
	IsPublic bool `json:"is_public"`
}

func (q *Queue) enqueue(kind, taskID string, payload any) error {
	d := storage.Delivery{
		ID:     uuid.New().String(),
		Kind:   kind,
		TaskID: taskID,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshaling %s payload: %w", kind, err)
		}
		d.PayloadJSON = string(b)
	}
	if err := q.store.EnqueueDelivery(d); err != nil {
		return fmt.Errorf("queueing %s for %s: %w", kind, taskID, err)
	}
	q.logger.Debug("delivery queued", "id", d.ID, "kind", kind, "task_id", taskID)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}
