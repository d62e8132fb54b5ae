package taskstore

import (
	"context"
	"errors"
	"sync"

	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/platform/metrics"
)

// Instrumented counts writes by operation and outcome, and tracks open subscriptions.
type Instrumented struct {
	Store         taskview.Store
	Mutations     *metrics.CounterVec
	Subscriptions *metrics.Gauge
}

func Instrument(store taskview.Store, registry *metrics.Registry) *Instrumented {
	in := &Instrumented{
		Store: store,
		Mutations: metrics.NewCounterVec(metrics.Opts{
			Name: "task_mutations_total",
			Help: "Task writes by operation and outcome.",
		}, "op", "outcome"),
		Subscriptions: metrics.NewGauge(metrics.Opts{
			Name: "task_live_subscriptions",
			Help: "Open live task subscriptions.",
		}),
	}
	registry.MustRegister(in.Mutations, in.Subscriptions)
	return in
}

func (in *Instrumented) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, taskview.ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "error"
	}
	in.Mutations.Inc(op, outcome)
}

func (in *Instrumented) CreateTask(ctx context.Context, userID string, fields taskview.Fields) (string, error) {
	id, err := in.Store.CreateTask(ctx, userID, fields)
	in.observe("create", err)
	return id, err
}

func (in *Instrumented) GetTask(ctx context.Context, userID, id string) (taskview.Task, error) {
	return in.Store.GetTask(ctx, userID, id)
}

func (in *Instrumented) UpdateTask(ctx context.Context, userID, id string, patch taskview.Patch) error {
	err := in.Store.UpdateTask(ctx, userID, id, patch)
	op := "update"
	if patch.Title == nil && patch.Completed != nil {
		op = "toggle"
	}
	in.observe(op, err)
	return err
}

func (in *Instrumented) DeleteTask(ctx context.Context, userID, id string) error {
	err := in.Store.DeleteTask(ctx, userID, id)
	in.observe("delete", err)
	return err
}

func (in *Instrumented) Subscribe(userID string, onSnapshot func([]taskview.Task), onError func(error)) (taskview.Subscription, error) {
	sub, err := in.Store.Subscribe(userID, onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	in.Subscriptions.Inc()
	return &countedSub{Subscription: sub, gauge: in.Subscriptions}, nil
}

type countedSub struct {
	taskview.Subscription
	gauge *metrics.Gauge
	once  sync.Once
}

func (s *countedSub) Unsubscribe() error {
	s.once.Do(s.gauge.Dec)
	return s.Subscription.Unsubscribe()
}
