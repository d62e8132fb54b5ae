package webui

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/taskflow/taskflow/internal/app/identity"
	"github.com/taskflow/taskflow/internal/app/taskstore"
	"github.com/taskflow/taskflow/internal/platform/auth"
	"github.com/taskflow/taskflow/internal/platform/logging"
	"golang.org/x/crypto/bcrypt"
)

type harness struct {
	t      *testing.T
	srv    *Server
	http   *httptest.Server
	client *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	svc := identity.NewService(identity.NewMemoryRepository(), auth.NewManager("test-secret", time.Hour))
	svc.HashCost = bcrypt.MinCost

	srv := NewServer(svc, taskstore.NewMemory(), logging.Discard())
	srv.KeepAlive = time.Hour
	ts := httptest.NewServer(srv.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
	})

	return &harness{t: t, srv: srv, http: ts, client: newBrowser(t)}
}

func newBrowser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (h *harness) get(c *http.Client, path string) string {
	h.t.Helper()
	resp, err := c.Get(h.http.URL + path)
	if err != nil {
		h.t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		h.t.Fatalf("GET %s: status %d: %s", path, resp.StatusCode, body)
	}
	return string(body)
}

func (h *harness) post(c *http.Client, path string, form url.Values) int {
	h.t.Helper()
	resp, err := c.PostForm(h.http.URL+path, form)
	if err != nil {
		h.t.Fatalf("POST %s: %v", path, err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func (h *harness) cookie(c *http.Client, name string) string {
	u, _ := url.Parse(h.http.URL)
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (h *harness) signUp(c *http.Client, email string) {
	h.t.Helper()
	h.get(c, "/")
	if code := h.post(c, "/ui/auth/mode", nil); code != http.StatusNoContent {
		h.t.Fatalf("auth mode: status %d", code)
	}
	code := h.post(c, "/ui/auth", url.Values{"email": {email}, "password": {"secret123"}})
	if code != http.StatusNoContent {
		h.t.Fatalf("auth: status %d", code)
	}
}

func TestSignUpAndAddTask(t *testing.T) {
	h := newHarness(t)

	page := h.get(h.client, "/")
	if !strings.Contains(page, `data-view="auth"`) || h.cookie(h.client, clientCookie) == "" {
		t.Fatalf("expected auth view and client cookie, got:\n%s", page)
	}

	h.signUp(h.client, "ann@example.com")
	if h.cookie(h.client, sessionCookie) == "" {
		t.Fatal("expected session cookie after sign up")
	}
	page = h.get(h.client, "/")
	if !strings.Contains(page, `data-view="list"`) || !strings.Contains(page, "No tasks yet") {
		t.Fatalf("expected empty list view, got:\n%s", page)
	}

	h.post(h.client, "/ui/tasks/new", nil)
	page = h.get(h.client, "/")
	if !strings.Contains(page, `data-view="form"`) || !strings.Contains(page, "Add New Task") {
		t.Fatalf("expected add form, got:\n%s", page)
	}

	h.post(h.client, "/ui/form", url.Values{"title": {"Buy milk"}, "due_date": {"2026-10-20"}})
	page = h.get(h.client, "/")
	for _, want := range []string{`data-view="list"`, "Buy milk", "Due: 2026-10-20"} {
		if !strings.Contains(page, want) {
			t.Fatalf("missing %q in:\n%s", want, page)
		}
	}
}

func TestFormValidationErrorStaysOnForm(t *testing.T) {
	h := newHarness(t)
	h.signUp(h.client, "ann@example.com")
	h.post(h.client, "/ui/tasks/new", nil)

	if code := h.post(h.client, "/ui/form", url.Values{"title": {"   "}}); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	page := h.get(h.client, "/")
	if !strings.Contains(page, `data-view="form"`) || !strings.Contains(page, "Task title cannot be empty.") {
		t.Fatalf("expected form with validation error, got:\n%s", page)
	}

	h.post(h.client, "/ui/form/cancel", nil)
	if page := h.get(h.client, "/"); !strings.Contains(page, `data-view="list"`) {
		t.Fatalf("expected list after cancel, got:\n%s", page)
	}
}

func TestRejectsUnknownFilterAndSort(t *testing.T) {
	h := newHarness(t)
	if code := h.post(h.client, "/ui/filter?filter=archived", nil); code != http.StatusBadRequest {
		t.Fatalf("filter: expected 400, got %d", code)
	}
	if code := h.post(h.client, "/ui/sort", url.Values{"sort": {"random"}}); code != http.StatusBadRequest {
		t.Fatalf("sort: expected 400, got %d", code)
	}
	if code := h.post(h.client, "/ui/filter?filter=completed", nil); code != http.StatusNoContent {
		t.Fatalf("filter: expected 204, got %d", code)
	}
}

func TestSessionCookieResumesOnNewClient(t *testing.T) {
	h := newHarness(t)
	h.signUp(h.client, "ann@example.com")
	token := h.cookie(h.client, sessionCookie)

	other := newBrowser(t)
	u, _ := url.Parse(h.http.URL)
	other.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: token, Path: "/"}})

	page := h.get(other, "/")
	if !strings.Contains(page, `data-view="list"`) || !strings.Contains(page, "ann@example.com") {
		t.Fatalf("expected resumed list view, got:\n%s", page)
	}
	if h.cookie(other, clientCookie) == h.cookie(h.client, clientCookie) {
		t.Fatal("expected a distinct client id")
	}
}

func TestInvalidSessionCookieIsCleared(t *testing.T) {
	h := newHarness(t)
	u, _ := url.Parse(h.http.URL)
	h.client.Jar.SetCookies(u, []*http.Cookie{{Name: sessionCookie, Value: "garbage", Path: "/"}})

	page := h.get(h.client, "/")
	if !strings.Contains(page, `data-view="auth"`) {
		t.Fatalf("expected auth view, got:\n%s", page)
	}
	if h.cookie(h.client, sessionCookie) != "" {
		t.Fatal("expected invalid session cookie to be cleared")
	}
}

func TestLogoutClearsSession(t *testing.T) {
	h := newHarness(t)
	h.signUp(h.client, "ann@example.com")

	if code := h.post(h.client, "/ui/logout", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if h.cookie(h.client, sessionCookie) != "" {
		t.Fatal("expected session cookie to be cleared")
	}
	if page := h.get(h.client, "/"); !strings.Contains(page, `data-view="auth"`) {
		t.Fatalf("expected auth view after logout, got:\n%s", page)
	}
}

func readEvents(body io.Reader) <-chan string {
	events := make(chan string, 16)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var event strings.Builder
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if event.Len() > 0 {
					events <- event.String()
					event.Reset()
				}
				continue
			}
			event.WriteString(line)
			event.WriteByte('\n')
		}
	}()
	return events
}

func waitForEvent(t *testing.T, events <-chan string, want string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream closed before %q arrived", want)
			}
			if strings.Contains(ev, want) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func openStream(t *testing.T, h *harness) (<-chan string, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, h.http.URL+"/ui/stream", nil)
	resp, err := h.client.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	return readEvents(resp.Body), func() {
		cancel()
		resp.Body.Close()
	}
}

func TestStreamPushesRerenders(t *testing.T) {
	h := newHarness(t)
	h.get(h.client, "/")

	events, closeStream := openStream(t, h)
	defer closeStream()

	first := waitForEvent(t, events, "event: datastar-patch-elements")
	for _, want := range []string{"data: selector #app", "data: mode outer", `data: elements <main id="app" data-view="auth"`} {
		if !strings.Contains(first, want) {
			t.Fatalf("missing %q in first event:\n%s", want, first)
		}
	}

	h.post(h.client, "/ui/auth/mode", nil)
	waitForEvent(t, events, "<h2>Sign Up</h2>")

	h.post(h.client, "/ui/auth", url.Values{"email": {"ann@example.com"}, "password": {"secret123"}})
	waitForEvent(t, events, `data-view="list"`)
}

func TestNewStreamReplacesPrevious(t *testing.T) {
	h := newHarness(t)
	h.get(h.client, "/")

	firstEvents, closeFirst := openStream(t, h)
	defer closeFirst()
	waitForEvent(t, firstEvents, "datastar-patch-elements")

	secondEvents, closeSecond := openStream(t, h)
	defer closeSecond()
	waitForEvent(t, secondEvents, "datastar-patch-elements")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-firstEvents:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("expected the first stream to be closed")
		}
	}
}

func TestWritePatchSplitsLines(t *testing.T) {
	rec := httptest.NewRecorder()
	writePatch(rec, "#app", "outer", "<p>\na\n</p>")
	want := "event: datastar-patch-elements\n" +
		"data: selector #app\n" +
		"data: mode outer\n" +
		"data: elements <p>\n" +
		"data: elements a\n" +
		"data: elements </p>\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected patch:\n%q\nwant:\n%q", got, want)
	}
}
