package taskview

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	msgAuthFailed   = "An error occurred during authentication."
	msgLoadFailed   = "Failed to load task for editing."
	msgEditNotFound = "Task not found for editing."
	msgSaveFailed   = "Failed to save task. Please try again."
	msgToggleFailed = "Failed to update task completion status."
	msgDeleteFailed = "Failed to delete task."
	msgLogoutFailed = "Failed to sign out."
	msgFeedFailed   = "Failed to fetch real-time updates for tasks."
)

// DeletePrompt is the question shown before a task is deleted.
const DeletePrompt = "Are you sure you want to delete this task?"

// AuthForm holds the auth inputs that survive a re-render.
type AuthForm struct {
	Email string
}

// FormState holds the task form fields as the user sees them.
type FormState struct {
	Title       string
	Description string
	DueDate     string
	Completed   bool
}

func formStateOf(t Task) FormState {
	fs := FormState{Title: t.Title, Description: t.Description, Completed: t.Completed}
	if t.DueDate != nil {
		fs.DueDate = t.DueDate.String()
	}
	return fs
}

// Draft parses the form into a Draft. An empty due date means none.
func (f FormState) Draft() (Draft, error) {
	d := Draft{Title: f.Title, Description: f.Description, Completed: f.Completed}
	if raw := strings.TrimSpace(f.DueDate); raw != "" {
		due, err := ParseDate(raw)
		if err != nil {
			return Draft{}, ErrInvalidDueDate
		}
		d.DueDate = &due
	}
	return d, nil
}

// ErrorSlots is one error line per view.
type ErrorSlots struct {
	Auth string
	List string
	Form string
}

type BusyFlags struct {
	Auth bool
	Form bool
}

// AppState is everything the view machine owns.
type AppState struct {
	Session       Session
	View          View
	AuthMode      AuthMode
	EditingTaskID string
	Filter        Filter
	Sort          SortOrder
	Snapshot      []Task
	AuthForm      AuthForm
	Form          FormState
	Errors        ErrorSlots
	Busy          BusyFlags
	PendingDelete string
}

// Presentation is what the UI layer renders.
type Presentation struct {
	View          View
	AuthMode      AuthMode
	Session       Session
	Filter        Filter
	Sort          SortOrder
	Tasks         []Task
	Empty         bool
	EditingTaskID string
	AuthForm      AuthForm
	Form          FormState
	Errors        ErrorSlots
	Busy          BusyFlags
	PendingDelete string
}

// Controller is the view state machine of one client. It reacts to session
// changes, subscription deliveries and user intents, and signals on Changes
// whenever the Presentation may differ.
type Controller struct {
	Identity  Identity
	Seq       *Sequencer
	Projector Projector
	Now       func() time.Time
	Logger    *slog.Logger

	sessionMu sync.Mutex

	mu            sync.Mutex
	state         AppState
	viewGen       uint64
	feedErr       string
	changes       chan struct{}
	cancelSession func()
}

func NewController(identity Identity, store Store, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Identity: identity,
		Seq:      NewSequencer(store, logger),
		Now:      time.Now,
		Logger:   logger,
		state: AppState{
			View:     ViewAuth,
			AuthMode: AuthLogin,
			Filter:   FilterAll,
			Sort:     SortCreatedDesc,
		},
		changes: make(chan struct{}, 1),
	}
}

// Start listens for session changes. The identity reports the current session right away.
func (c *Controller) Start() {
	cancel := c.Identity.OnSessionChanged(c.HandleSession)
	c.mu.Lock()
	c.cancelSession = cancel
	c.mu.Unlock()
}

// Close stops listening for session changes and detaches the live subscription.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancelSession
	c.cancelSession = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.Seq.Detach()
}

// Changes delivers coalesced re-render requests.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) Presentation() Presentation {
	c.mu.Lock()
	s := c.state
	c.mu.Unlock()

	tasks := c.Projector.Project(s.Snapshot, s.Filter, s.Sort)
	return Presentation{
		View:          s.View,
		AuthMode:      s.AuthMode,
		Session:       s.Session,
		Filter:        s.Filter,
		Sort:          s.Sort,
		Tasks:         tasks,
		Empty:         len(tasks) == 0,
		EditingTaskID: s.EditingTaskID,
		AuthForm:      s.AuthForm,
		Form:          s.Form,
		Errors:        s.Errors,
		Busy:          s.Busy,
		PendingDelete: s.PendingDelete,
	}
}

// State returns a copy of the owned state.
func (c *Controller) State() AppState {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	s.Snapshot = slices.Clone(s.Snapshot)
	return s
}

func (c *Controller) enterAuthLocked(mode AuthMode) {
	c.state.View = ViewAuth
	c.state.AuthMode = mode
	c.state.AuthForm = AuthForm{}
	c.state.Errors.Auth = ""
	c.state.EditingTaskID = ""
	c.state.PendingDelete = ""
	c.viewGen++
}

func (c *Controller) enterListLocked() {
	c.state.View = ViewList
	c.state.EditingTaskID = ""
	c.state.Errors.List = ""
	c.feedErr = ""
	c.viewGen++
}

func (c *Controller) enterFormLocked(editingID string) {
	c.state.View = ViewForm
	c.state.EditingTaskID = editingID
	c.state.Form = FormState{}
	c.state.Errors.Form = ""
	c.state.PendingDelete = ""
	c.viewGen++
}

// reportLocked writes err into view's slot only if that view is still the
// one the operation started from; otherwise the error is logged and dropped.
func (c *Controller) reportLocked(view View, gen uint64, err error, fallback string) {
	c.reportMessageLocked(view, gen, Message(err, fallback), err)
}

func (c *Controller) reportMessageLocked(view View, gen uint64, msg string, err error) {
	if c.state.View != view || c.viewGen != gen {
		c.Logger.Warn("dropping error for stale view", "view", view.String(), "error", err)
		return
	}
	switch view {
	case ViewAuth:
		c.state.Errors.Auth = msg
	case ViewList:
		c.state.Errors.List = msg
	case ViewForm:
		c.state.Errors.Form = msg
	}
}

// HandleSession applies a session change: authenticated sessions go to the
// list with a fresh subscription, unauthenticated ones go to login with the
// subscription detached first.
func (c *Controller) HandleSession(s Session) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	// The previous session's feed must be gone before the new session's
	// state becomes visible.
	c.Seq.Detach()

	c.mu.Lock()
	prev := c.state.Session
	c.state.Session = s
	if s.IsAuthenticated() {
		if prev.UserID != s.UserID {
			c.state.Snapshot = nil
		}
		c.enterListLocked()
	} else {
		c.state.Snapshot = nil
		c.enterAuthLocked(AuthLogin)
	}
	gen := c.viewGen
	c.mu.Unlock()
	c.notify()

	if !s.IsAuthenticated() {
		c.Logger.Info("session ended")
		return
	}

	c.Logger.Info("session started", "user_id", s.UserID)
	if err := c.Seq.Attach(s.UserID, c.onSnapshot, c.onFeedError); err != nil {
		c.Logger.Error("subscribe failed", "user_id", s.UserID, "error", err)
		c.mu.Lock()
		c.reportLocked(ViewList, gen, err, msgFeedFailed)
		if c.state.View == ViewList && c.viewGen == gen {
			c.feedErr = c.state.Errors.List
		}
		c.mu.Unlock()
		c.notify()
	}
}

// onSnapshot leaves the list error alone unless it is the feed's own error,
// which a fresh delivery resolves.
func (c *Controller) onSnapshot(tasks []Task) {
	c.mu.Lock()
	c.state.Snapshot = slices.Clone(tasks)
	if c.feedErr != "" && c.state.Errors.List == c.feedErr {
		c.state.Errors.List = ""
	}
	c.feedErr = ""
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) onFeedError(err error) {
	c.Logger.Error("live task feed failed", "error", err)
	msg := Message(err, msgFeedFailed)
	c.mu.Lock()
	c.state.Errors.List = msg
	c.feedErr = msg
	c.mu.Unlock()
	c.notify()
}

// ToggleAuthMode switches between login and sign-up.
func (c *Controller) ToggleAuthMode() {
	c.mu.Lock()
	if c.state.View == ViewAuth {
		if c.state.AuthMode == AuthLogin {
			c.enterAuthLocked(AuthSignup)
		} else {
			c.enterAuthLocked(AuthLogin)
		}
	}
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) ShowLogin()  { c.showAuthMode(AuthLogin) }
func (c *Controller) ShowSignup() { c.showAuthMode(AuthSignup) }

func (c *Controller) showAuthMode(mode AuthMode) {
	c.mu.Lock()
	if c.state.View == ViewAuth {
		c.enterAuthLocked(mode)
	}
	c.mu.Unlock()
	c.notify()
}

// SubmitAuth logs in or signs up depending on the auth mode. The view change
// itself comes through HandleSession.
func (c *Controller) SubmitAuth(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)

	c.mu.Lock()
	if c.state.View != ViewAuth || c.state.Busy.Auth {
		c.mu.Unlock()
		return ErrNotReady
	}
	mode := c.state.AuthMode
	gen := c.viewGen
	c.state.AuthForm.Email = email
	c.state.Errors.Auth = ""
	if email == "" || password == "" {
		c.reportLocked(ViewAuth, gen, ErrCredentialsRequired, msgAuthFailed)
		c.mu.Unlock()
		c.notify()
		return ErrCredentialsRequired
	}
	c.state.Busy.Auth = true
	c.mu.Unlock()
	c.notify()

	var err error
	if mode == AuthLogin {
		err = c.Identity.LogIn(ctx, email, password)
	} else {
		err = c.Identity.SignUp(ctx, email, password)
	}
	err = Classify(err)

	c.mu.Lock()
	c.state.Busy.Auth = false
	if err != nil {
		c.reportLocked(ViewAuth, gen, err, msgAuthFailed)
	}
	c.mu.Unlock()
	c.notify()
	return err
}

func (c *Controller) LogOut(ctx context.Context) error {
	c.mu.Lock()
	view, gen := c.state.View, c.viewGen
	c.mu.Unlock()

	if err := c.Identity.LogOut(ctx); err != nil {
		err = Classify(err)
		c.Logger.Error("sign out failed", "error", err)
		c.mu.Lock()
		c.reportLocked(view, gen, err, msgLogoutFailed)
		c.mu.Unlock()
		c.notify()
		return err
	}
	return nil
}

func (c *Controller) SetFilter(f Filter) {
	c.mu.Lock()
	c.state.Filter = f
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) SetSort(o SortOrder) {
	c.mu.Lock()
	c.state.Sort = o
	c.mu.Unlock()
	c.notify()
}

// ShowAddForm opens an empty form with today's date as the due date.
func (c *Controller) ShowAddForm() error {
	c.mu.Lock()
	if !c.state.Session.IsAuthenticated() {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.enterFormLocked("")
	c.state.Form.DueDate = DateOf(c.Now()).String()
	c.mu.Unlock()
	c.notify()
	return nil
}

// ShowEditForm opens the form for id and fills it from a point read of the record.
func (c *Controller) ShowEditForm(ctx context.Context, id string) error {
	c.mu.Lock()
	if !c.state.Session.IsAuthenticated() {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.enterFormLocked(id)
	gen := c.viewGen
	c.mu.Unlock()
	c.notify()

	task, err := c.Seq.Get(ctx, id)

	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.notify()
	}()
	if err != nil {
		msg := Message(err, msgLoadFailed)
		if errors.Is(err, ErrNotFound) {
			msg = msgEditNotFound
		}
		c.reportMessageLocked(ViewForm, gen, msg, err)
		return err
	}
	if c.state.View == ViewForm && c.viewGen == gen {
		c.state.Form = formStateOf(task)
	}
	return nil
}

func (c *Controller) CancelForm() {
	c.mu.Lock()
	if c.state.View == ViewForm {
		c.enterListLocked()
	}
	c.mu.Unlock()
	c.notify()
}

// SubmitForm creates or updates depending on the form mode and returns to the
// list on success. On failure the form stays open with its inputs.
func (c *Controller) SubmitForm(ctx context.Context, in FormState) error {
	c.mu.Lock()
	if c.state.View != ViewForm || c.state.Busy.Form {
		c.mu.Unlock()
		return ErrNotReady
	}
	editing := c.state.EditingTaskID
	gen := c.viewGen
	c.state.Form = in
	c.state.Errors.Form = ""
	c.state.Busy.Form = true
	c.mu.Unlock()
	c.notify()

	draft, err := in.Draft()
	if err == nil {
		if editing == "" {
			_, err = c.Seq.Create(ctx, draft)
		} else {
			err = c.Seq.Update(ctx, editing, draft)
		}
	}

	c.mu.Lock()
	c.state.Busy.Form = false
	switch {
	case err != nil:
		c.reportLocked(ViewForm, gen, err, msgSaveFailed)
	case c.state.View == ViewForm && c.viewGen == gen:
		c.enterListLocked()
	}
	c.mu.Unlock()
	c.notify()
	return err
}

// ToggleCompleted flips completion of id based on the record in the current snapshot.
func (c *Controller) ToggleCompleted(ctx context.Context, id string) error {
	c.mu.Lock()
	if !c.state.Session.IsAuthenticated() {
		c.mu.Unlock()
		return ErrNotReady
	}
	gen := c.viewGen
	idx := slices.IndexFunc(c.state.Snapshot, func(t Task) bool { return t.ID == id })
	if idx < 0 {
		c.reportLocked(ViewList, gen, ErrNotFound, msgToggleFailed)
		c.mu.Unlock()
		c.notify()
		return ErrNotFound
	}
	next := !c.state.Snapshot[idx].Completed
	c.state.Errors.List = ""
	c.mu.Unlock()

	err := c.Seq.ToggleCompleted(ctx, id, next)
	if err != nil {
		c.mu.Lock()
		c.reportLocked(ViewList, gen, err, msgToggleFailed)
		c.mu.Unlock()
		c.notify()
	}
	return err
}

// RequestDelete asks the user to confirm deleting id.
func (c *Controller) RequestDelete(id string) error {
	c.mu.Lock()
	if c.state.View != ViewList {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.state.PendingDelete = id
	c.mu.Unlock()
	c.notify()
	return nil
}

// ResolveDelete answers the pending prompt. Anything but Confirmed leaves the task alone.
func (c *Controller) ResolveDelete(ctx context.Context, answer Confirmation) error {
	c.mu.Lock()
	id := c.state.PendingDelete
	c.state.PendingDelete = ""
	gen := c.viewGen
	if answer == Confirmed {
		c.state.Errors.List = ""
	}
	c.mu.Unlock()
	c.notify()

	if id == "" {
		return nil
	}
	err := c.Seq.Remove(ctx, id, answer)
	if err != nil {
		c.mu.Lock()
		c.reportLocked(ViewList, gen, err, msgDeleteFailed)
		c.mu.Unlock()
		c.notify()
	}
	return err
}

func (c *Controller) ConfirmDelete(ctx context.Context) error {
	return c.ResolveDelete(ctx, Confirmed)
}

func (c *Controller) CancelDelete(ctx context.Context) error {
	return c.ResolveDelete(ctx, Declined)
}
