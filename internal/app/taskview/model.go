package taskview

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar date without a time component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func ParseDate(raw string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Time returns midnight UTC of the date.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Task is one user-owned to-do item as delivered by a Store.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	DueDate     *Date     `json:"due_date,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fields is the full record written on creation.
type Fields struct {
	Title       string
	Description string
	DueDate     *Date
	Completed   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Patch is a field-level update. Nil fields are left untouched; UpdatedAt is always written.
type Patch struct {
	Title        *string
	Description  *string
	DueDate      *Date
	ClearDueDate bool
	Completed    *bool
	UpdatedAt    time.Time
}

// Draft is the user-editable part of a task.
type Draft struct {
	Title       string
	Description string
	DueDate     *Date
	Completed   bool
}

func (d Draft) normalized() (Draft, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	if d.Title == "" {
		return Draft{}, ErrTitleRequired
	}
	return d, nil
}

// Session is the current authentication outcome. The zero value is unauthenticated.
type Session struct {
	UserID string
	Email  string
}

func Authenticated(userID, email string) Session {
	return Session{UserID: userID, Email: email}
}

func (s Session) IsAuthenticated() bool {
	return s.UserID != ""
}

type View int

const (
	ViewAuth View = iota
	ViewList
	ViewForm
)

func (v View) String() string {
	switch v {
	case ViewList:
		return "list"
	case ViewForm:
		return "form"
	default:
		return "auth"
	}
}

type AuthMode int

const (
	AuthLogin AuthMode = iota
	AuthSignup
)

type Filter string

const (
	FilterAll       Filter = "all"
	FilterActive    Filter = "active"
	FilterCompleted Filter = "completed"
)

func ParseFilter(raw string) (Filter, error) {
	switch f := Filter(strings.TrimSpace(raw)); f {
	case FilterAll, FilterActive, FilterCompleted:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unknown filter %q", ErrValidation, raw)
	}
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t Task) bool {
	switch f {
	case FilterActive:
		return !t.Completed
	case FilterCompleted:
		return t.Completed
	default:
		return true
	}
}

type SortOrder string

const (
	SortCreatedDesc SortOrder = "createdAtDesc"
	SortCreatedAsc  SortOrder = "createdAtAsc"
	SortTitleAsc    SortOrder = "titleAsc"
	SortTitleDesc   SortOrder = "titleDesc"
)

func ParseSortOrder(raw string) (SortOrder, error) {
	switch o := SortOrder(strings.TrimSpace(raw)); o {
	case SortCreatedDesc, SortCreatedAsc, SortTitleAsc, SortTitleDesc:
		return o, nil
	default:
		return "", fmt.Errorf("%w: unknown sort order %q", ErrValidation, raw)
	}
}

// Confirmation is the answer to a yes/no prompt. Only Confirmed lets a deletion proceed.
type Confirmation int

const (
	Unanswered Confirmation = iota
	Confirmed
	Declined
)

// Identity is the authentication provider consumed by the Controller.
type Identity interface {
	SignUp(ctx context.Context, email, password string) error
	LogIn(ctx context.Context, email, password string) error
	LogOut(ctx context.Context) error
	// OnSessionChanged invokes fn with the current session right away and on every change.
	OnSessionChanged(fn func(Session)) (cancel func())
}

// Store is a per-user task collection with CRUD and live full-snapshot delivery.
type Store interface {
	CreateTask(ctx context.Context, userID string, fields Fields) (string, error)
	GetTask(ctx context.Context, userID, id string) (Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch Patch) error
	DeleteTask(ctx context.Context, userID, id string) error
	Subscribe(userID string, onSnapshot func([]Task), onError func(error)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}
