package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mesaviva/mesaviva/internal/authz"
	"github.com/mesaviva/mesaviva/jobs"
)

func newTestCache(t *testing.T) *authz.PermissionCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return authz.NewPermissionCache(client, time.Minute)
}

func TestPermissionInvalidateDropsEntries(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t)

	entries := []authz.InvalidationEntry{
		{UserID: uuid.NewString(), TenantID: uuid.NewString()},
		{UserID: uuid.NewString(), TenantID: uuid.NewString()},
	}
	for _, e := range entries {
		set := authz.NewPermissionSet("ORDER_MODULE", "ORDER_MODULE:CREATE")
		require.NoError(t, cache.Put(ctx, e.UserID, e.TenantID, set))
	}

	task, err := jobs.NewPermissionInvalidateTask(jobs.PermissionInvalidatePayload{Entries: entries})
	require.NoError(t, err)

	job := jobs.NewPermissionInvalidateJob(cache, nil, nil)
	require.NoError(t, job.Handle(ctx, task))

	for _, e := range entries {
		_, ok, err := cache.Get(ctx, e.UserID, e.TenantID)
		require.NoError(t, err)
		require.False(t, ok)
	}
}

func TestPermissionInvalidateBadPayload(t *testing.T) {
	job := jobs.NewPermissionInvalidateJob(newTestCache(t), nil, nil)
	task := asynq.NewTask(jobs.TaskPermissionInvalidate, []byte("{not json"))

	err := job.Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestPermissionInvalidateEmptyBatch(t *testing.T) {
	job := jobs.NewPermissionInvalidateJob(newTestCache(t), nil, nil)
	task, err := jobs.NewPermissionInvalidateTask(jobs.PermissionInvalidatePayload{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
}
