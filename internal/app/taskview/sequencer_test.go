package taskview

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"
)

func newAttachedSequencer(t *testing.T, store *fakeStore, userID string) (*Sequencer, *[][]Task) {
	t.Helper()
	seq := NewSequencer(store, discardLogger())
	seq.Now = fixedClock
	var got [][]Task
	if err := seq.Attach(userID, func(tasks []Task) { got = append(got, tasks) }, func(error) {}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	return seq, &got
}

func lastSnapshot(t *testing.T, snapshots *[][]Task) []Task {
	t.Helper()
	if len(*snapshots) == 0 {
		t.Fatal("no snapshot delivered")
	}
	return (*snapshots)[len(*snapshots)-1]
}

func TestSequencerRequiresSession(t *testing.T) {
	ctx := context.Background()
	seq := NewSequencer(newFakeStore(), discardLogger())

	if _, err := seq.Create(ctx, Draft{Title: "x"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("create: expected not ready, got %v", err)
	}
	if err := seq.Update(ctx, "t1", Draft{Title: "x"}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("update: expected not ready, got %v", err)
	}
	if err := seq.ToggleCompleted(ctx, "t1", true); !errors.Is(err, ErrNotReady) {
		t.Fatalf("toggle: expected not ready, got %v", err)
	}
	if err := seq.Remove(ctx, "t1", Confirmed); !errors.Is(err, ErrNotReady) {
		t.Fatalf("remove: expected not ready, got %v", err)
	}
	if _, err := seq.Get(ctx, "t1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("get: expected not ready, got %v", err)
	}
	if err := seq.Attach("", func([]Task) {}, func(error) {}); !errors.Is(err, ErrNotReady) {
		t.Fatalf("attach: expected not ready, got %v", err)
	}
}

func TestSequencerCreateSetsTimestamps(t *testing.T) {
	store := newFakeStore()
	seq, snapshots := newAttachedSequencer(t, store, "u1")

	id, err := seq.Create(context.Background(), Draft{Title: "  Buy milk  ", Description: " 2 liters "})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected an id")
	}

	last := lastSnapshot(t, snapshots)
	if len(last) != 1 {
		t.Fatalf("expected one task, got %d", len(last))
	}
	task := last[0]
	if task.ID != id || task.Title != "Buy milk" || task.Description != "2 liters" || task.Completed {
		t.Fatalf("unexpected task %+v", task)
	}
	if !task.CreatedAt.Equal(fixedNow) || !task.UpdatedAt.Equal(task.CreatedAt) {
		t.Fatalf("unexpected timestamps created=%v updated=%v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestSequencerRejectsBlankTitleWithoutWriting(t *testing.T) {
	store := newFakeStore()
	seq, _ := newAttachedSequencer(t, store, "u1")

	if _, err := seq.Create(context.Background(), Draft{Title: "   "}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := seq.Update(context.Background(), "t1", Draft{Title: ""}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected title required, got %v", err)
	}
	if store.creates != 0 || store.updates != 0 {
		t.Fatalf("expected no writes, creates=%d updates=%d", store.creates, store.updates)
	}
}

func TestSequencerUpdateKeepsCreatedAt(t *testing.T) {
	store := newFakeStore()
	seq, snapshots := newAttachedSequencer(t, store, "u1")
	ctx := context.Background()

	id, err := seq.Create(ctx, Draft{Title: "draft", DueDate: &Date{Year: 2026, Month: time.October, Day: 20}})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	later := fixedNow.Add(time.Hour)
	seq.Now = func() time.Time { return later }
	if err := seq.Update(ctx, id, Draft{Title: "final", Completed: true}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	task := lastSnapshot(t, snapshots)[0]
	if task.Title != "final" || !task.Completed {
		t.Fatalf("update not applied: %+v", task)
	}
	if task.DueDate != nil {
		t.Fatalf("an empty due date clears the stored one, got %v", task.DueDate)
	}
	if !task.CreatedAt.Equal(fixedNow) || !task.UpdatedAt.Equal(later) {
		t.Fatalf("unexpected timestamps created=%v updated=%v", task.CreatedAt, task.UpdatedAt)
	}
}

func TestSequencerUpdateMissingIsNotFound(t *testing.T) {
	seq, _ := newAttachedSequencer(t, newFakeStore(), "u1")
	if err := seq.Update(context.Background(), "ghost", Draft{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSequencerToggleRoundTrip(t *testing.T) {
	store := newFakeStore()
	seq, snapshots := newAttachedSequencer(t, store, "u1")
	ctx := context.Background()

	id, err := seq.Create(ctx, Draft{Title: "walk"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	original := lastSnapshot(t, snapshots)[0]

	if err := seq.ToggleCompleted(ctx, id, true); err != nil {
		t.Fatalf("toggle on failed: %v", err)
	}
	if !lastSnapshot(t, snapshots)[0].Completed {
		t.Fatal("expected completed after toggle")
	}

	if err := seq.ToggleCompleted(ctx, id, false); err != nil {
		t.Fatalf("toggle off failed: %v", err)
	}
	final := lastSnapshot(t, snapshots)[0]
	if final.Completed != original.Completed || final.Title != original.Title || !final.CreatedAt.Equal(original.CreatedAt) {
		t.Fatalf("round trip changed the task: %+v vs %+v", final, original)
	}
}

func TestSequencerRemoveNeedsConfirmation(t *testing.T) {
	store := newFakeStore()
	seq, snapshots := newAttachedSequencer(t, store, "u1")
	ctx := context.Background()

	id, err := seq.Create(ctx, Draft{Title: "keep me"})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	for _, answer := range []Confirmation{Declined, Unanswered} {
		if err := seq.Remove(ctx, id, answer); err != nil {
			t.Fatalf("remove(%v) failed: %v", answer, err)
		}
	}
	if store.deletes != 0 || len(lastSnapshot(t, snapshots)) != 1 {
		t.Fatalf("unconfirmed remove must not write, deletes=%d", store.deletes)
	}

	if err := seq.Remove(ctx, id, Confirmed); err != nil {
		t.Fatalf("confirmed remove failed: %v", err)
	}
	if n := len(lastSnapshot(t, snapshots)); n != 0 {
		t.Fatalf("expected empty snapshot, got %d tasks", n)
	}

	if err := seq.Remove(ctx, id, Confirmed); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second remove: expected not found, got %v", err)
	}
}

func TestSequencerClassifiesUnknownFailures(t *testing.T) {
	store := newFakeStore()
	seq, _ := newAttachedSequencer(t, store, "u1")
	store.createErr = errors.New("disk on fire")

	_, err := seq.Create(context.Background(), Draft{Title: "x"})
	if !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected unknown error, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Fatalf("cause lost: %v", err)
	}
}

func TestSequencerDropsDeliveriesAfterDetach(t *testing.T) {
	store := newFakeStore()
	seq, snapshots := newAttachedSequencer(t, store, "u1")
	sub := store.lastSub()
	delivered := len(*snapshots)

	seq.Detach()
	if n := store.openSubs(); n != 0 {
		t.Fatalf("expected no open subscriptions, got %d", n)
	}
	if id := seq.UserID(); id != "" {
		t.Fatalf("expected no user after detach, got %q", id)
	}

	// A delivery that was already in flight when Detach ran.
	sub.onSnapshot([]Task{{ID: "late"}})
	sub.onError(errors.New("late failure"))
	if len(*snapshots) != delivered {
		t.Fatalf("late delivery was not dropped: %d snapshots", len(*snapshots))
	}
}

func TestSequencerAttachReplacesSubscription(t *testing.T) {
	store := newFakeStore()
	seq, _ := newAttachedSequencer(t, store, "u1")

	var got []string
	if err := seq.Attach("u2", func([]Task) { got = append(got, "u2") }, func(error) {}); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	if events, want := store.eventLog(), []string{"subscribe:u1", "unsubscribe:u1", "subscribe:u2"}; !slices.Equal(events, want) {
		t.Fatalf("events=%v want %v", events, want)
	}
	if n := store.openSubs(); n != 1 {
		t.Fatalf("expected one open subscription, got %d", n)
	}
	if id := seq.UserID(); id != "u2" {
		t.Fatalf("expected user u2, got %q", id)
	}
	if !slices.Equal(got, []string{"u2"}) {
		t.Fatalf("expected one initial delivery for u2, got %v", got)
	}
}

func TestSequencerSubscriptionErrorsAreClassified(t *testing.T) {
	store := newFakeStore()
	seq := NewSequencer(store, discardLogger())

	var got error
	if err := seq.Attach("u1", func([]Task) {}, func(err error) { got = err }); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	store.lastSub().onError(errors.New("permission denied"))

	if !errors.Is(got, ErrSubscription) {
		t.Fatalf("expected subscription error, got %v", got)
	}
	if msg := Message(got, ""); msg != "Failed to fetch real-time updates for tasks." {
		t.Fatalf("unexpected message %q", msg)
	}
}
