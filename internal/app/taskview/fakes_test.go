package taskview

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// fakeStore delivers snapshots synchronously on every write and records calls.
type fakeStore struct {
	mu     sync.Mutex
	tasks  map[string][]Task
	nextID int
	subs   []*fakeSub
	events []string

	// createGate, when set, holds CreateTask until it is closed.
	createGate chan struct{}

	getErr    error
	createErr error
	updateErr error
	deleteErr error

	creates int
	updates int
	deletes int
}

type fakeSub struct {
	store      *fakeStore
	userID     string
	onSnapshot func([]Task)
	onError    func(error)
	closed     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string][]Task{}}
}

func (f *fakeStore) CreateTask(_ context.Context, userID string, fields Fields) (string, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	f.creates++
	if f.createErr != nil {
		f.mu.Unlock()
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("t%d", f.nextID)
	f.tasks[userID] = append(f.tasks[userID], Task{
		ID:          id,
		Title:       fields.Title,
		Description: fields.Description,
		DueDate:     fields.DueDate,
		Completed:   fields.Completed,
		CreatedAt:   fields.CreatedAt,
		UpdatedAt:   fields.UpdatedAt,
	})
	f.mu.Unlock()
	f.publish(userID)
	return id, nil
}

func (f *fakeStore) GetTask(_ context.Context, userID, id string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return Task{}, f.getErr
	}
	for _, t := range f.tasks[userID] {
		if t.ID == id {
			return t, nil
		}
	}
	return Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
}

func (f *fakeStore) UpdateTask(_ context.Context, userID, id string, p Patch) error {
	f.mu.Lock()
	f.updates++
	if f.updateErr != nil {
		f.mu.Unlock()
		return f.updateErr
	}
	idx := slices.IndexFunc(f.tasks[userID], func(t Task) bool { return t.ID == id })
	if idx < 0 {
		f.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	t := f.tasks[userID][idx]
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		t.DueDate = p.DueDate
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
	t.UpdatedAt = p.UpdatedAt
	f.tasks[userID][idx] = t
	f.mu.Unlock()
	f.publish(userID)
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, userID, id string) error {
	f.mu.Lock()
	f.deletes++
	if f.deleteErr != nil {
		f.mu.Unlock()
		return f.deleteErr
	}
	idx := slices.IndexFunc(f.tasks[userID], func(t Task) bool { return t.ID == id })
	if idx < 0 {
		f.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	f.tasks[userID] = slices.Delete(f.tasks[userID], idx, idx+1)
	f.mu.Unlock()
	f.publish(userID)
	return nil
}

func (f *fakeStore) Subscribe(userID string, onSnapshot func([]Task), onError func(error)) (Subscription, error) {
	sub := &fakeSub{store: f, userID: userID, onSnapshot: onSnapshot, onError: onError}
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.events = append(f.events, "subscribe:"+userID)
	snapshot := slices.Clone(f.tasks[userID])
	f.mu.Unlock()

	onSnapshot(snapshot)
	return sub, nil
}

func (f *fakeStore) publish(userID string) {
	f.mu.Lock()
	snapshot := slices.Clone(f.tasks[userID])
	var targets []*fakeSub
	for _, s := range f.subs {
		if s.userID == userID && !s.closed {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.onSnapshot(slices.Clone(snapshot))
	}
}

// put writes a record directly, bypassing the Sequencer, as another device would.
func (f *fakeStore) put(userID string, t Task) {
	f.mu.Lock()
	f.tasks[userID] = append(f.tasks[userID], t)
	f.mu.Unlock()
	f.publish(userID)
}

func (f *fakeStore) lastSub() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

func (f *fakeStore) openSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if !s.closed {
			n++
		}
	}
	return n
}

func (f *fakeStore) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.events)
}

func (s *fakeSub) Unsubscribe() error {
	s.store.mu.Lock()
	s.closed = true
	s.store.events = append(s.store.events, "unsubscribe:"+s.userID)
	s.store.mu.Unlock()
	return nil
}

// fakeIdentity signs users in synchronously; passwords are not checked unless loginErr is set.
type fakeIdentity struct {
	mu        sync.Mutex
	session   Session
	listeners map[int]func(Session)
	next      int

	loginGate chan struct{}
	loginErr  error
	signupErr error
	logoutErr error
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{listeners: map[int]func(Session){}}
}

func (f *fakeIdentity) SignUp(_ context.Context, email, _ string) error {
	if f.signupErr != nil {
		return f.signupErr
	}
	f.set(Authenticated("uid-"+email, email))
	return nil
}

func (f *fakeIdentity) LogIn(_ context.Context, email, _ string) error {
	if f.loginGate != nil {
		<-f.loginGate
	}
	if f.loginErr != nil {
		return f.loginErr
	}
	f.set(Authenticated("uid-"+email, email))
	return nil
}

func (f *fakeIdentity) LogOut(context.Context) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.set(Session{})
	return nil
}

func (f *fakeIdentity) OnSessionChanged(fn func(Session)) func() {
	f.mu.Lock()
	f.next++
	id := f.next
	f.listeners[id] = fn
	current := f.session
	f.mu.Unlock()

	fn(current)
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

func (f *fakeIdentity) set(s Session) {
	f.mu.Lock()
	f.session = s
	var fns []func(Session)
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

var fixedNow = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
