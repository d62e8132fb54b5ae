package webui

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nuid"
	"github.com/taskflow/taskflow/internal/app/identity"
	"github.com/taskflow/taskflow/internal/app/taskview"
	"github.com/taskflow/taskflow/services/frontend"
)

const (
	clientCookie  = "tf_client"
	sessionCookie = "tf_session"

	defaultIdleTTL   = 30 * time.Minute
	defaultKeepAlive = 25 * time.Second
)

// Server is the browser-facing surface: one taskview.Controller per client,
// intents over form POSTs, re-renders over server-sent events.
type Server struct {
	Identity      *identity.Service
	Store         taskview.Store
	Projector     taskview.Projector
	Logger        *slog.Logger
	SessionTTL    time.Duration
	SecureCookies bool
	IdleTTL       time.Duration
	KeepAlive     time.Duration
	Now           func() time.Time
	NewID         func() string

	clients *clientRegistry
}

func NewServer(identitySvc *identity.Service, store taskview.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Identity:   identitySvc,
		Store:      store,
		Logger:     logger,
		SessionTTL: 24 * time.Hour,
		IdleTTL:    defaultIdleTTL,
		KeepAlive:  defaultKeepAlive,
		Now:        time.Now,
		NewID:      nuid.Next,
		clients:    newClientRegistry(),
	}
}

func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.handlePage)
	r.Handle("/static/*", http.StripPrefix("/static/", frontend.StaticHandler()))

	r.Route("/ui", func(ui chi.Router) {
		ui.Get("/stream", s.handleStream)

		ui.Post("/auth", s.handleAuth)
		ui.Post("/auth/mode", s.intent(func(_ *http.Request, c *client) error {
			c.ctrl.ToggleAuthMode()
			return nil
		}))
		ui.Post("/logout", s.handleLogout)

		ui.Post("/filter", s.handleFilter)
		ui.Post("/sort", s.handleSort)

		ui.Post("/tasks/new", s.intent(func(_ *http.Request, c *client) error {
			return c.ctrl.ShowAddForm()
		}))
		ui.Post("/tasks/{taskID}/edit", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.ShowEditForm(r.Context(), chi.URLParam(r, "taskID"))
		}))
		ui.Post("/tasks/{taskID}/toggle", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.ToggleCompleted(r.Context(), chi.URLParam(r, "taskID"))
		}))
		ui.Post("/tasks/{taskID}/delete", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.RequestDelete(chi.URLParam(r, "taskID"))
		}))
		ui.Post("/delete/confirm", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.ConfirmDelete(r.Context())
		}))
		ui.Post("/delete/cancel", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.CancelDelete(r.Context())
		}))

		ui.Post("/form", s.intent(func(r *http.Request, c *client) error {
			return c.ctrl.SubmitForm(r.Context(), taskview.FormState{
				Title:       r.FormValue("title"),
				Description: r.FormValue("description"),
				DueDate:     r.FormValue("due_date"),
				Completed:   r.FormValue("completed") == "true",
			})
		}))
		ui.Post("/form/cancel", s.intent(func(_ *http.Request, c *client) error {
			c.ctrl.CancelForm()
			return nil
		}))
	})
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	s.Routes(r)
	return r
}

// Run evicts idle clients until ctx ends, then closes every client.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.clients.closeAll()
			return
		case <-ticker.C:
			if n := s.clients.evictIdle(s.Now(), s.IdleTTL); n > 0 {
				s.Logger.Info("evicted idle clients", "count", n)
			}
		}
	}
}

func (s *Server) ensureClient(w http.ResponseWriter, r *http.Request) *client {
	var id string
	if ck, err := r.Cookie(clientCookie); err == nil {
		id = strings.TrimSpace(ck.Value)
	}
	if id != "" {
		if c, ok := s.clients.get(id); ok {
			c.touch(s.Now())
			return c
		}
	} else {
		id = s.NewID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	ident := identity.NewClient(s.Identity)
	if ck, err := r.Cookie(sessionCookie); err == nil && ck.Value != "" {
		if err := ident.Resume(r.Context(), ck.Value); err != nil {
			s.Logger.Info("discarding stored session", "client_id", id, "error", err)
			s.clearSession(w)
		}
	}

	logger := s.Logger.With("client_id", id)
	ctrl := taskview.NewController(ident, s.Store, logger)
	ctrl.Projector = s.Projector
	ctrl.Start()

	c := &client{id: id, ident: ident, ctrl: ctrl, lastSeen: s.Now()}
	winner, added := s.clients.add(c)
	if !added {
		c.close()
		return winner
	}
	logger.Debug("client registered")
	return c
}

func (s *Server) setSession(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// intent wraps a controller call. Failures are already part of the rendered
// state, so the response is always 204.
func (s *Server) intent(fn func(*http.Request, *client) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form payload", http.StatusBadRequest)
			return
		}
		c := s.ensureClient(w, r)
		if err := fn(r, c); err != nil {
			s.Logger.Debug("intent failed", "client_id", c.id, "path", r.URL.Path, "error", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	c := s.ensureClient(w, r)
	w.Header().Set("Cache-Control", "no-store")
	templ.Handler(frontend.Page(c.ctrl.Presentation()),
		templ.WithErrorHandler(func(_ *http.Request, err error) http.Handler {
			s.Logger.Error("render page failed", "client_id", c.id, "error", err)
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "render failed", http.StatusInternalServerError)
			})
		}),
	).ServeHTTP(w, r)
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return
	}
	c := s.ensureClient(w, r)
	if err := c.ctrl.SubmitAuth(r.Context(), r.FormValue("email"), r.FormValue("password")); err != nil {
		s.Logger.Debug("auth failed", "client_id", c.id, "error", err)
	} else if token := c.ident.Token(); token != "" {
		s.setSession(w, token)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	c := s.ensureClient(w, r)
	if err := c.ctrl.LogOut(r.Context()); err != nil {
		s.Logger.Warn("logout failed", "client_id", c.id, "error", err)
	}
	s.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	f, err := taskview.ParseFilter(r.FormValue("filter"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.ensureClient(w, r).ctrl.SetFilter(f)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSort(w http.ResponseWriter, r *http.Request) {
	o, err := taskview.ParseSortOrder(r.FormValue("sort"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.ensureClient(w, r).ctrl.SetSort(o)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	c := s.ensureClient(w, r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	streamCtx, cancelStream := context.WithCancel(r.Context())
	defer cancelStream()
	streamID := s.clients.nextStreamID()
	if cancelPrev := c.replaceStream(streamID, cancelStream, s.Now()); cancelPrev != nil {
		cancelPrev()
	}
	defer func() { c.releaseStream(streamID, s.Now()) }()

	var buf bytes.Buffer
	sendApp := func() error {
		buf.Reset()
		if err := frontend.App(c.ctrl.Presentation()).Render(streamCtx, &buf); err != nil {
			return err
		}
		writePatch(w, "#app", "outer", buf.String())
		flusher.Flush()
		return nil
	}

	if err := sendApp(); err != nil {
		s.Logger.Error("render stream failed", "client_id", c.id, "error", err)
		return
	}

	keepAlive := time.NewTicker(s.KeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-streamCtx.Done():
			return
		case <-c.ctrl.Changes():
			if err := sendApp(); err != nil {
				s.Logger.Error("render stream failed", "client_id", c.id, "error", err)
				return
			}
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// writePatch emits one datastar-patch-elements event. Every line of content
// gets its own elements field so multi-line markup survives the framing.
func writePatch(w http.ResponseWriter, selector, mode, content string) {
	fmt.Fprint(w, "event: datastar-patch-elements\n")
	fmt.Fprintf(w, "data: selector %s\n", selector)
	fmt.Fprintf(w, "data: mode %s\n", mode)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "data: elements %s\n", line)
	}
	fmt.Fprint(w, "\n")
}
