package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/mesaviva/mesaviva/internal/authz"
	jobmetrics "github.com/mesaviva/mesaviva/internal/jobs"
)

// warmupParallelism bounds concurrent compiles against the graph store.
const warmupParallelism = 4

// PermissionWarmupJob recompiles permission sets for users with live sessions
// so their first request after a cache expiry stays on the fast path.
// Compiles are idempotent; overlapping runs are harmless.
type PermissionWarmupJob struct {
	Compiler *authz.Compiler
	Cache    *authz.PermissionCache
	Pool     *pgxpool.Pool
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewPermissionWarmupJob wires dependencies for the warmup handler.
func NewPermissionWarmupJob(compiler *authz.Compiler, cache *authz.PermissionCache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *PermissionWarmupJob {
	return &PermissionWarmupJob{Compiler: compiler, Cache: cache, Pool: pool, Logger: logger, Metrics: metrics}
}

type warmupTarget struct {
	userID   uuid.UUID
	tenantID uuid.UUID
}

// Handle processes TaskPermissionWarmup tasks.
func (j *PermissionWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Compiler == nil || j.Cache == nil || j.Pool == nil {
		return errors.New("permission warmup: handler not configured")
	}
	var payload PermissionWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskPermissionWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	targets, err := j.fetchTargets(ctx, payload.ActiveWithin)
	if err != nil {
		resultErr = err
		logger.Error("load warmup targets", slog.Any("error", err))
		return resultErr
	}
	if len(targets) == 0 {
		logger.Info("no active sessions to warm up")
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(warmupParallelism)
	for _, target := range targets {
		group.Go(func() error {
			set, err := j.Compiler.Compile(groupCtx, target.userID, target.tenantID)
			if err != nil {
				return err
			}
			return j.Cache.Put(groupCtx, target.userID.String(), target.tenantID.String(), set)
		})
	}
	if err := group.Wait(); err != nil {
		resultErr = err
		logger.Error("permission warmup", slog.Any("error", err))
		return resultErr
	}
	logger.Info("permission cache warmed", slog.Int("targets", len(targets)))
	return nil
}

func (j *PermissionWarmupJob) fetchTargets(ctx context.Context, activeWithin time.Duration) ([]warmupTarget, error) {
	query := `
		SELECT DISTINCT s.user_id, u.tenant_id
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.expires_at > NOW()
		  AND u.is_active`
	args := []any{}
	if activeWithin > 0 {
		query += " AND s.created_at > NOW() - $1::interval"
		args = append(args, activeWithin.String())
	}

	rows, err := j.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []warmupTarget
	for rows.Next() {
		var target warmupTarget
		if err := rows.Scan(&target.userID, &target.tenantID); err != nil {
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (j *PermissionWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
