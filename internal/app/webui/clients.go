package webui

import (
	"context"
	"sync"
	"time"

	"github.com/taskflow/taskflow/internal/app/identity"
	"github.com/taskflow/taskflow/internal/app/taskview"
)

// client is one browser: its identity session, its view machine, and at most
// one live stream.
type client struct {
	id    string
	ident *identity.Client
	ctrl  *taskview.Controller

	mu       sync.Mutex
	lease    streamLease
	lastSeen time.Time
}

type streamLease struct {
	id     uint64
	cancel context.CancelFunc
}

// replaceStream installs a new stream and returns the cancel func of the one it displaced.
func (c *client) replaceStream(id uint64, cancel context.CancelFunc, now time.Time) context.CancelFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.lease.cancel
	c.lease = streamLease{id: id, cancel: cancel}
	c.lastSeen = now
	return prev
}

// releaseStream clears the lease only if it still belongs to stream id.
func (c *client) releaseStream(id uint64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease.id == id {
		c.lease = streamLease{}
	}
	c.lastSeen = now
}

func (c *client) touch(now time.Time) {
	c.mu.Lock()
	c.lastSeen = now
	c.mu.Unlock()
}

func (c *client) idleSince(now time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lease.cancel != nil {
		return 0, false
	}
	return now.Sub(c.lastSeen), true
}

func (c *client) close() {
	c.mu.Lock()
	cancel := c.lease.cancel
	c.lease = streamLease{}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.ctrl.Close()
}

type clientRegistry struct {
	mu       sync.Mutex
	byID     map[string]*client
	streamID uint64
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{byID: map[string]*client{}}
}

func (r *clientRegistry) get(id string) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	return c, ok
}

// add registers c unless another goroutine registered the same id first; the
// winner is returned.
func (r *clientRegistry) add(c *client) (*client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[c.id]; ok {
		return existing, false
	}
	r.byID[c.id] = c
	return c, true
}

func (r *clientRegistry) nextStreamID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamID++
	return r.streamID
}

// evictIdle closes clients without a stream for longer than ttl.
func (r *clientRegistry) evictIdle(now time.Time, ttl time.Duration) int {
	r.mu.Lock()
	var stale []*client
	for id, c := range r.byID {
		if idle, ok := c.idleSince(now); ok && idle > ttl {
			stale = append(stale, c)
			delete(r.byID, id)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.close()
	}
	return len(stale)
}

func (r *clientRegistry) closeAll() {
	r.mu.Lock()
	all := make([]*client, 0, len(r.byID))
	for id, c := range r.byID {
		all = append(all, c)
		delete(r.byID, id)
	}
	r.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}

func (r *clientRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
