package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/internal/platform/auth"
)

// Client is the session of one browser. It implements taskview.Identity.
type Client struct {
	Service *Service

	// emitMu keeps listener notifications in the order sessions changed.
	emitMu sync.Mutex

	mu        sync.Mutex
	session   taskview.Session
	token     string
	listeners map[uint64]func(taskview.Session)
	nextID    uint64
}

func NewClient(svc *Service) *Client {
	return &Client{
		Service:   svc,
		listeners: map[uint64]func(taskview.Session){},
	}
}

func (c *Client) SignUp(ctx context.Context, email, password string) error {
	acc, err := c.Service.SignUp(ctx, email, password)
	if err != nil {
		return viewError(err)
	}
	c.set(acc)
	return nil
}

func (c *Client) LogIn(ctx context.Context, email, password string) error {
	acc, err := c.Service.LogIn(ctx, email, password)
	if err != nil {
		return viewError(err)
	}
	c.set(acc)
	return nil
}

func (c *Client) LogOut(context.Context) error {
	c.set(Account{})
	return nil
}

// Resume signs the client in from a stored token. Invalid or stale tokens leave it signed out.
func (c *Client) Resume(ctx context.Context, token string) error {
	acc, err := c.Service.Resume(ctx, token)
	if err != nil {
		return viewError(err)
	}
	c.set(acc)
	return nil
}

// OnSessionChanged registers fn and immediately reports the current session to it.
func (c *Client) OnSessionChanged(fn func(taskview.Session)) func() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	current := c.session
	c.mu.Unlock()

	fn(current)

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) Session() taskview.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Token is the session token of the signed-in user, or "".
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) set(acc Account) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	var s taskview.Session
	if acc.UserID != "" {
		s = taskview.Authenticated(acc.UserID, acc.Email)
	}

	c.mu.Lock()
	c.session = s
	c.token = acc.Token
	listeners := make([]func(taskview.Session), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func viewError(err error) error {
	switch {
	case errors.Is(err, ErrEmailInUse):
		return taskview.ErrEmailInUse
	case errors.Is(err, ErrInvalidEmail):
		return taskview.ErrInvalidEmail
	case errors.Is(err, ErrWeakPassword):
		return taskview.ErrWeakPassword
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrNotFound),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		return taskview.ErrInvalidCredentials
	}
	return fmt.Errorf("%w: %w", taskview.ErrAuth, err)
}
