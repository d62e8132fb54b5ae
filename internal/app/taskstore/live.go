package taskstore

import (
	"context"
	"log/slog"

	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/contracts"
)

// Live is the production taskview.Store: writes go to Postgres, and every
// committed write is announced on the Feed so subscribers re-read the collection.
type Live struct {
	DB     *Postgres
	Feed   *Feed
	Logger *slog.Logger
}

func NewLive(db *Postgres, bus Bus, logger *slog.Logger) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	return &Live{
		DB:     db,
		Feed:   NewFeed(bus, db, logger),
		Logger: logger,
	}
}

func (l *Live) CreateTask(ctx context.Context, userID string, fields taskview.Fields) (string, error) {
	id, err := l.DB.Create(ctx, userID, fields)
	if err != nil {
		return "", err
	}
	l.announce(userID, id, contracts.TaskCreated)
	return id, nil
}

func (l *Live) GetTask(ctx context.Context, userID, id string) (taskview.Task, error) {
	return l.DB.Get(ctx, userID, id)
}

func (l *Live) UpdateTask(ctx context.Context, userID, id string, patch taskview.Patch) error {
	if err := l.DB.Update(ctx, userID, id, patch); err != nil {
		return err
	}
	l.announce(userID, id, contracts.TaskUpdated)
	return nil
}

func (l *Live) DeleteTask(ctx context.Context, userID, id string) error {
	if err := l.DB.Delete(ctx, userID, id); err != nil {
		return err
	}
	l.announce(userID, id, contracts.TaskDeleted)
	return nil
}

func (l *Live) Subscribe(userID string, onSnapshot func([]taskview.Task), onError func(error)) (taskview.Subscription, error) {
	return l.Feed.Subscribe(userID, onSnapshot, onError)
}

// announce never fails the write: the row is committed, and local
// subscribers were already scheduled for a refresh.
func (l *Live) announce(userID, taskID, kind string) {
	if err := l.Feed.Notify(userID, taskID, kind); err != nil {
		l.Logger.Warn("publish task change failed", "user_id", userID, "task_id", taskID, "kind", kind, "error", err)
	}
}
