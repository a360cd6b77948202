package room

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/campfire-client/internal/api"
	"github.com/vovakirdan/campfire-client/internal/stream"
)

type route func(body any) (any, error)

type multipartCall struct {
	field       string
	filename    string
	contentType string
	content     string
}

// fakeSession answers REST calls from a route table and counts every call.
type fakeSession struct {
	mu         sync.Mutex
	routes     map[string]route
	calls      map[string]int
	bodies     map[string][]any
	multiparts []multipartCall
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		routes: make(map[string]route),
		calls:  make(map[string]int),
		bodies: make(map[string][]any),
	}
}

func (f *fakeSession) handle(method, path string, r route) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[method+" "+path] = r
}

func (f *fakeSession) reply(method, path string, response any) {
	f.handle(method, path, func(any) (any, error) { return response, nil })
}

func (f *fakeSession) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method+" "+path]
}

func (f *fakeSession) sent(method, path string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.bodies[method+" "+path]...)
}

func (f *fakeSession) do(method, path string, body, out any) error {
	key := method + " " + path
	f.mu.Lock()
	f.calls[key]++
	f.bodies[key] = append(f.bodies[key], body)
	r := f.routes[key]
	f.mu.Unlock()

	if r == nil {
		return &api.Error{Method: method, Path: path, StatusCode: http.StatusNotFound}
	}
	response, err := r(body)
	if err != nil {
		return err
	}
	if out == nil || response == nil {
		return nil
	}
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakeSession) Get(_ context.Context, path string, out any) error {
	return f.do(http.MethodGet, path, nil, out)
}

func (f *fakeSession) Post(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPost, path, body, out)
}

func (f *fakeSession) Put(_ context.Context, path string, body, out any) error {
	return f.do(http.MethodPut, path, body, out)
}

func (f *fakeSession) PostMultipart(_ context.Context, path, field, filename, contentType string, content io.Reader, out any) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.multiparts = append(f.multiparts, multipartCall{field: field, filename: filename, contentType: contentType, content: string(data)})
	f.mu.Unlock()
	return f.do(http.MethodPost, path, nil, out)
}

func (f *fakeSession) BasicAuthMaterial(context.Context) (string, string, error) {
	return "token-123", "X", nil
}

func (f *fakeSession) BaseURL() string    { return "https://acme.campfirenow.com" }
func (f *fakeSession) StreamHost() string { return "streaming.campfirenow.com" }
func (f *fakeSession) SSL() bool          { return true }

// fakeHandle is a stream handle driven by the test.
type fakeHandle struct {
	mu      sync.Mutex
	events  chan stream.Event
	closed  bool
	stopped int
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{events: make(chan stream.Event, 16)}
}

func (h *fakeHandle) Events() <-chan stream.Event { return h.events }

func (h *fakeHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	h.closeLocked()
}

func (h *fakeHandle) push(event stream.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.events <- event
	}
}

func (h *fakeHandle) item(payload string) {
	h.push(stream.Event{Kind: stream.EventItem, Payload: []byte(payload)})
}

// drop closes the event channel as a transport would after giving up silently.
func (h *fakeHandle) drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *fakeHandle) closeLocked() {
	if !h.closed {
		h.closed = true
		close(h.events)
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	targets []stream.Target
	err     error
	handles chan *fakeHandle
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{handles: make(chan *fakeHandle, 4)}
}

func (d *fakeDialer) Dial(_ context.Context, target stream.Target) (stream.Handle, error) {
	d.mu.Lock()
	d.targets = append(d.targets, target)
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	h := newFakeHandle()
	d.handles <- h
	return h, nil
}

func (d *fakeDialer) next(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-d.handles:
		return h
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
		return nil
	}
}

func rawUserJSON(id int64, name string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          name,
		"email_address": name + "@example.com",
		"admin":         false,
		"created_at":    "2011/06/14 16:21:48 +0000",
		"type":          "Member",
		"avatar_url":    "https://example.com/" + name + ".png",
	}
}

func roomJSON(topic string, openToGuests bool, users ...map[string]any) map[string]any {
	if users == nil {
		users = []map[string]any{}
	}
	return map[string]any{
		"room": map[string]any{
			"id":                 1,
			"name":               "Ops",
			"topic":              topic,
			"full":               false,
			"open_to_guests":     openToGuests,
			"active_token_value": "abc12",
			"membership_limit":   60,
			"users":              users,
		},
	}
}

func rawMessageJSON(id, userID int64, body string) string {
	data, _ := json.Marshal(map[string]any{
		"id":         id,
		"body":       body,
		"type":       TextMessage,
		"room_id":    1,
		"user_id":    userID,
		"created_at": "2011/06/14 16:21:48 +0000",
		"starred":    false,
	})
	return string(data)
}

func newTestRoom(t *testing.T, opts Options) (*Room, *fakeSession) {
	t.Helper()
	sess := newFakeSession()
	sess.reply(http.MethodGet, "/room/1.json", roomJSON("deploys", true, rawUserJSON(7, "alice")))
	sess.reply(http.MethodPost, "/room/1/join.xml", nil)
	sess.reply(http.MethodPost, "/room/1/leave.xml", nil)
	return New(sess, 1, "Ops", opts), sess
}

func waitStatus(t *testing.T, r *Room, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Status() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status = %s, want %s", r.Status(), want)
}

func waitResult(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for Listen to return")
		return nil
	}
}
