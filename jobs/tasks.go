package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mesaviva/mesaviva/internal/authz"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionInvalidate drops cached permission sets after graph edits.
	TaskPermissionInvalidate = "authz:invalidate"
	// TaskPermissionWarmup recompiles permission sets for active sessions.
	TaskPermissionWarmup = "authz:warmup"
)

// PermissionInvalidatePayload lists the cache entries to drop.
type PermissionInvalidatePayload struct {
	Entries []authz.InvalidationEntry `json:"entries"`
}

// NewPermissionInvalidateTask constructs an Asynq task for a batch of
// invalidations.
func NewPermissionInvalidateTask(payload PermissionInvalidatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionInvalidate, data), nil
}

// PermissionWarmupPayload scopes a warmup run to sessions active within the
// given window. Zero means every unexpired session.
type PermissionWarmupPayload struct {
	ActiveWithin time.Duration `json:"active_within"`
}

// NewPermissionWarmupTask constructs an Asynq task for a cache warmup run.
func NewPermissionWarmupTask(payload PermissionWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionWarmup, data), nil
}

// Enqueuer hands authorization cache work to the queue. It implements
// authz.InvalidationEnqueuer.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an Asynq client.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueInvalidation queues a batch invalidation on the default queue.
func (e *Enqueuer) EnqueueInvalidation(ctx context.Context, entries []authz.InvalidationEntry) error {
	task, err := NewPermissionInvalidateTask(PermissionInvalidatePayload{Entries: entries})
	if err != nil {
		return fmt.Errorf("jobs: build invalidate task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault)); err != nil {
		return fmt.Errorf("jobs: enqueue invalidate: %w", err)
	}
	return nil
}
