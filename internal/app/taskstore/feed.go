package taskstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/contracts"
	"github.com/taskflow/taskflow/internal/sharding"
)

const (
	defaultSnapshotDebounce = 75 * time.Millisecond
	defaultRefreshTimeout   = 3 * time.Second
)

// Bus carries change notices between processes.
type Bus interface {
	Publish(subject string, payload []byte) error
	Subscribe(subject string, handler func(payload []byte)) (unsubscribe func() error, err error)
}

// Lister reads a user's full task collection.
type Lister interface {
	List(ctx context.Context, userID string) ([]taskview.Task, error)
}

// Feed turns change notices into full snapshot redeliveries. Every change to
// a user's collection schedules a debounced re-list for that user's
// subscribers, whether the notice came from this process or over the Bus.
type Feed struct {
	Bus      Bus
	Lister   Lister
	Debounce time.Duration
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string

	mu     sync.Mutex
	byUser map[string]map[*feedSub]struct{}
}

func NewFeed(bus Bus, lister Lister, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		Bus:      bus,
		Lister:   lister,
		Debounce: defaultSnapshotDebounce,
		Timeout:  defaultRefreshTimeout,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    nuid.Next,
		byUser:   map[string]map[*feedSub]struct{}{},
	}
}

// Notify schedules a refresh for local subscribers of userID and publishes a
// change notice for every other process.
func (f *Feed) Notify(userID, taskID, kind string) error {
	f.poke(userID)

	event := contracts.TaskChanged{
		EventID:    f.NewID(),
		UserID:     userID,
		TaskID:     taskID,
		Kind:       kind,
		OccurredAt: f.Now(),
		ShardID:    sharding.GetShardID(userID),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.Bus.Publish(sharding.UserSubject(userID), payload)
}

// Subscribe delivers the current collection of userID asynchronously and
// again after every change until the subscription is cancelled.
func (f *Feed) Subscribe(userID string, onSnapshot func([]taskview.Task), onError func(error)) (taskview.Subscription, error) {
	sub := &feedSub{
		feed:       f,
		userID:     userID,
		onSnapshot: onSnapshot,
		onError:    onError,
	}

	unsubscribe, err := f.Bus.Subscribe(sharding.UserFilter(userID), func(payload []byte) {
		var event contracts.TaskChanged
		if err := json.Unmarshal(payload, &event); err != nil {
			f.Logger.Warn("discarding malformed change notice", "user_id", userID, "error", err)
			return
		}
		if event.UserID != userID {
			return
		}
		sub.schedule()
	})
	if err != nil {
		return nil, err
	}
	sub.unsubscribe = unsubscribe

	f.mu.Lock()
	if f.byUser[userID] == nil {
		f.byUser[userID] = map[*feedSub]struct{}{}
	}
	f.byUser[userID][sub] = struct{}{}
	f.mu.Unlock()

	go sub.refresh()
	return sub, nil
}

func (f *Feed) poke(userID string) {
	f.mu.Lock()
	subs := make([]*feedSub, 0, len(f.byUser[userID]))
	for sub := range f.byUser[userID] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, sub := range subs {
		sub.schedule()
	}
}

func (f *Feed) release(sub *feedSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byUser[sub.userID], sub)
	if len(f.byUser[sub.userID]) == 0 {
		delete(f.byUser, sub.userID)
	}
}

type feedSub struct {
	feed        *Feed
	userID      string
	onSnapshot  func([]taskview.Task)
	onError     func(error)
	unsubscribe func() error

	// refreshMu keeps refreshes in order, so a later delivery is never older.
	refreshMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	refreshTimer *time.Timer
}

func (s *feedSub) schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.refreshTimer == nil {
		s.refreshTimer = time.AfterFunc(s.feed.Debounce, s.runScheduledRefresh)
		return
	}
	s.refreshTimer.Reset(s.feed.Debounce)
}

func (s *feedSub) runScheduledRefresh() {
	s.mu.Lock()
	s.refreshTimer = nil
	s.mu.Unlock()
	s.refresh()
}

func (s *feedSub) refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if s.isClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.feed.Timeout)
	defer cancel()
	tasks, err := s.feed.Lister.List(ctx, s.userID)

	if s.isClosed() {
		return
	}
	if err != nil {
		s.feed.Logger.Error("task snapshot refresh failed", "user_id", s.userID, "error", err)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}
	s.onSnapshot(tasks)
}

func (s *feedSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *feedSub) Unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timer := s.refreshTimer
	s.refreshTimer = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.feed.release(s)
	if s.unsubscribe == nil {
		return nil
	}
	return s.unsubscribe()
}
