package taskview

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sequencer serializes task writes against a Store and owns the single live
// subscription of the current session.
type Sequencer struct {
	Store  Store
	Now    func() time.Time
	Logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	userID string
	sub    Subscription

	// deliverMu is held for reading while a delivery runs, so bumping gen
	// under the write lock waits out in-flight deliveries of the old session.
	deliverMu sync.RWMutex
	gen       uint64
}

func NewSequencer(store Store, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		Store:  store,
		Now:    func() time.Time { return time.Now().UTC() },
		Logger: logger,
	}
}

// Attach detaches any current subscription and subscribes to userID's collection.
func (s *Sequencer) Attach(userID string, onSnapshot func([]Task), onError func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detachLocked()
	if userID == "" {
		return ErrNotReady
	}

	s.deliverMu.Lock()
	s.gen++
	gen := s.gen
	s.deliverMu.Unlock()

	s.userID = userID
	sub, err := s.Store.Subscribe(userID,
		func(tasks []Task) {
			s.deliverMu.RLock()
			defer s.deliverMu.RUnlock()
			if s.gen != gen {
				return
			}
			onSnapshot(tasks)
		},
		func(err error) {
			s.deliverMu.RLock()
			defer s.deliverMu.RUnlock()
			if s.gen != gen {
				return
			}
			onError(Classify(wrapSubscription(err)))
		},
	)
	if err != nil {
		return Classify(wrapSubscription(err))
	}
	s.sub = sub
	return nil
}

// Detach synchronously tears down the live subscription. No delivery of the
// detached session is observed after Detach returns.
func (s *Sequencer) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detachLocked()
}

func (s *Sequencer) detachLocked() {
	s.deliverMu.Lock()
	s.gen++
	s.deliverMu.Unlock()

	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.Logger.Warn("unsubscribe failed", "user_id", s.userID, "error", err)
		}
	}
	s.sub = nil
	s.userID = ""
}

// UserID returns the user of the attached session, or "".
func (s *Sequencer) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Sequencer) session() (string, error) {
	userID := s.UserID()
	if userID == "" {
		return "", ErrNotReady
	}
	return userID, nil
}

// Get is a point read of one task, independent of the live snapshot.
func (s *Sequencer) Get(ctx context.Context, id string) (Task, error) {
	userID, err := s.session()
	if err != nil {
		return Task{}, err
	}
	task, err := s.Store.GetTask(ctx, userID, id)
	if err != nil {
		return Task{}, Classify(err)
	}
	return task, nil
}

func (s *Sequencer) Create(ctx context.Context, d Draft) (string, error) {
	userID, err := s.session()
	if err != nil {
		return "", err
	}
	d, err = d.normalized()
	if err != nil {
		return "", err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.Now()
	id, err := s.Store.CreateTask(ctx, userID, Fields{
		Title:       d.Title,
		Description: d.Description,
		DueDate:     d.DueDate,
		Completed:   d.Completed,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return "", Classify(err)
	}
	return id, nil
}

// Update overwrites every editable field of id. CreatedAt is never written.
func (s *Sequencer) Update(ctx context.Context, id string, d Draft) error {
	userID, err := s.session()
	if err != nil {
		return err
	}
	d, err = d.normalized()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return Classify(s.Store.UpdateTask(ctx, userID, id, Patch{
		Title:        &d.Title,
		Description:  &d.Description,
		DueDate:      d.DueDate,
		ClearDueDate: d.DueDate == nil,
		Completed:    &d.Completed,
		UpdatedAt:    s.Now(),
	}))
}

func (s *Sequencer) ToggleCompleted(ctx context.Context, id string, completed bool) error {
	userID, err := s.session()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return Classify(s.Store.UpdateTask(ctx, userID, id, Patch{
		Completed: &completed,
		UpdatedAt: s.Now(),
	}))
}

// Remove deletes id only when answer is Confirmed; any other answer is a silent no-op.
func (s *Sequencer) Remove(ctx context.Context, id string, answer Confirmation) error {
	userID, err := s.session()
	if err != nil {
		return err
	}
	if answer != Confirmed {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return Classify(s.Store.DeleteTask(ctx, userID, id))
}
