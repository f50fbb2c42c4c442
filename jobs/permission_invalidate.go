package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/mesaviva/mesaviva/internal/authz"
	jobmetrics "github.com/mesaviva/mesaviva/internal/jobs"
)

// PermissionInvalidateJob drops cached permission sets touched by a graph
// mutation. Dropping an entry that is already gone is a no-op, so retries
// are safe.
type PermissionInvalidateJob struct {
	Cache   *authz.PermissionCache
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPermissionInvalidateJob wires dependencies for the invalidation handler.
func NewPermissionInvalidateJob(cache *authz.PermissionCache, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionInvalidateJob {
	return &PermissionInvalidateJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle processes TaskPermissionInvalidate tasks.
func (j *PermissionInvalidateJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Cache == nil {
		return errors.New("permission invalidate: handler not configured")
	}
	var payload PermissionInvalidatePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskPermissionInvalidate)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	for _, entry := range payload.Entries {
		if err := j.Cache.Invalidate(ctx, entry.UserID, entry.TenantID); err != nil {
			logger.Error("invalidate permission cache",
				slog.String("user_id", entry.UserID),
				slog.String("tenant_id", entry.TenantID),
				slog.Any("error", err))
			resultErr = err
			return resultErr
		}
	}
	logger.Info("permission cache invalidated", slog.Int("entries", len(payload.Entries)))
	return nil
}

func (j *PermissionInvalidateJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
