package taskstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nats-io/nuid"
	"github.com/taskflow/taskflow/internal/app/taskview"
)

// Memory is an in-process task store with the same snapshot semantics as Live.
type Memory struct {
	NewID func() string

	mu      sync.Mutex
	version uint64
	seq     uint64
	byUser  map[string]map[string]memoryRecord
	subs    map[string]map[uint64]*memorySub
	nextSub uint64
}

type memoryRecord struct {
	task taskview.Task
	seq  uint64
}

type memorySub struct {
	store  *Memory
	userID string
	id     uint64
	fn     func([]taskview.Task)

	mu        sync.Mutex
	delivered uint64
	closed    bool
}

func NewMemory() *Memory {
	return &Memory{
		NewID:  nuid.Next,
		byUser: map[string]map[string]memoryRecord{},
		subs:   map[string]map[uint64]*memorySub{},
	}
}

func (m *Memory) CreateTask(_ context.Context, userID string, fields taskview.Fields) (string, error) {
	m.mu.Lock()
	id := m.NewID()
	if m.byUser[userID] == nil {
		m.byUser[userID] = map[string]memoryRecord{}
	}
	m.seq++
	m.byUser[userID][id] = memoryRecord{
		seq: m.seq,
		task: taskview.Task{
			ID:          id,
			Title:       fields.Title,
			Description: fields.Description,
			DueDate:     cloneDate(fields.DueDate),
			Completed:   fields.Completed,
			CreatedAt:   fields.CreatedAt,
			UpdatedAt:   fields.UpdatedAt,
		},
	}
	deliver := m.changedLocked(userID)
	m.mu.Unlock()

	deliver()
	return id, nil
}

func (m *Memory) GetTask(_ context.Context, userID, id string) (taskview.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byUser[userID][id]
	if !ok {
		return taskview.Task{}, fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
	}
	return cloneTask(rec.task), nil
}

func (m *Memory) UpdateTask(_ context.Context, userID, id string, patch taskview.Patch) error {
	m.mu.Lock()
	rec, ok := m.byUser[userID][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
	}
	rec.task = applyPatch(rec.task, patch)
	m.byUser[userID][id] = rec
	deliver := m.changedLocked(userID)
	m.mu.Unlock()

	deliver()
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, userID, id string) error {
	m.mu.Lock()
	if _, ok := m.byUser[userID][id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, taskview.ErrNotFound)
	}
	delete(m.byUser[userID], id)
	deliver := m.changedLocked(userID)
	m.mu.Unlock()

	deliver()
	return nil
}

// Subscribe delivers the current snapshot before returning and again after every write.
func (m *Memory) Subscribe(userID string, onSnapshot func([]taskview.Task), _ func(error)) (taskview.Subscription, error) {
	m.mu.Lock()
	m.nextSub++
	sub := &memorySub{store: m, userID: userID, id: m.nextSub, fn: onSnapshot}
	if m.subs[userID] == nil {
		m.subs[userID] = map[uint64]*memorySub{}
	}
	m.subs[userID][sub.id] = sub
	version := m.version
	snapshot := m.snapshotLocked(userID)
	m.mu.Unlock()

	sub.deliver(version, snapshot)
	return sub, nil
}

func (m *Memory) snapshotLocked(userID string) []taskview.Task {
	records := make([]memoryRecord, 0, len(m.byUser[userID]))
	for _, rec := range m.byUser[userID] {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b memoryRecord) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	out := make([]taskview.Task, len(records))
	for i, rec := range records {
		out[i] = cloneTask(rec.task)
	}
	return out
}

// changedLocked bumps the version and returns a func that fans the new
// snapshot out to userID's subscribers. It must run after m.mu is released.
func (m *Memory) changedLocked(userID string) func() {
	m.version++
	version := m.version
	snapshot := m.snapshotLocked(userID)
	subs := make([]*memorySub, 0, len(m.subs[userID]))
	for _, sub := range m.subs[userID] {
		subs = append(subs, sub)
	}
	return func() {
		for _, sub := range subs {
			sub.deliver(version, slices.Clone(snapshot))
		}
	}
}

// deliver drops snapshots older than the last one delivered.
func (s *memorySub) deliver(version uint64, snapshot []taskview.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.delivered != 0 && version <= s.delivered) {
		return
	}
	s.delivered = version
	s.fn(snapshot)
}

func (s *memorySub) Unsubscribe() error {
	s.store.mu.Lock()
	delete(s.store.subs[s.userID], s.id)
	s.store.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func applyPatch(t taskview.Task, p taskview.Patch) taskview.Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		t.DueDate = cloneDate(p.DueDate)
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	t.UpdatedAt = p.UpdatedAt
	return t
}

func cloneDate(d *taskview.Date) *taskview.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

func cloneTask(t taskview.Task) taskview.Task {
	t.DueDate = cloneDate(t.DueDate)
	return t
}
