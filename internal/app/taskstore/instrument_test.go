package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/platform/metrics"
)

func TestInstrumentedCountsWritesAndSubscriptions(t *testing.T) {
	ctx := context.Background()
	registry := metrics.NewRegistry()
	store := Instrument(NewMemory(), registry)

	sub, err := store.Subscribe("u1", func([]taskview.Task) {}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, store.Subscriptions.Value())

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id, err := store.CreateTask(ctx, "u1", taskview.Fields{Title: "t", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	done := true
	require.NoError(t, store.UpdateTask(ctx, "u1", id, taskview.Patch{Completed: &done, UpdatedAt: now}))
	title := "renamed"
	require.NoError(t, store.UpdateTask(ctx, "u1", id, taskview.Patch{Title: &title, Completed: &done, UpdatedAt: now}))
	require.NoError(t, store.DeleteTask(ctx, "u1", id))
	assert.ErrorIs(t, store.DeleteTask(ctx, "u1", id), taskview.ErrNotFound)

	assert.Equal(t, 1.0, store.Mutations.Value("create", "ok"))
	assert.Equal(t, 1.0, store.Mutations.Value("toggle", "ok"))
	assert.Equal(t, 1.0, store.Mutations.Value("update", "ok"))
	assert.Equal(t, 1.0, store.Mutations.Value("delete", "ok"))
	assert.Equal(t, 1.0, store.Mutations.Value("delete", "not_found"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.Equal(t, 0.0, store.Subscriptions.Value())
	assert.Contains(t, registry.Expose(), "taskflow_task_live_subscriptions 0")
}
