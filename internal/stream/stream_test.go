package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func targetFor(t *testing.T, server *httptest.Server) Target {
	t.Helper()
	return Target{
		Host:     strings.TrimPrefix(server.URL, "http://"),
		Path:     "/room/1/live.json",
		Username: "token",
		Password: "X",
		Timeout:  time.Second,
	}
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func waitClosed(t *testing.T, events <-chan Event) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("event channel not closed")
		}
	}
}

func writeLine(w http.ResponseWriter, line string) {
	_, _ = io.WriteString(w, line)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func TestScanFrames(t *testing.T) {
	input := "{\"a\":1}\r{\"b\":2}\r\n \n{\"c\":3}\n{\"d\":4}"
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Split(scanFrames)

	var got []string
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			got = append(got, line)
		}
	}
	want := []string{`{"a":1}`, `{"b":2}`, `{"c":3}`, `{"d":4}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("frames = %v, want %v", got, want)
	}
}

func TestHTTPDialerDeliversItemsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "token" || pass != "X" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeLine(w, "{\"id\":1}\r")
		writeLine(w, " \r")
		writeLine(w, "{\"id\":2}\r\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	dialer := &HTTPDialer{}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		ev := nextEvent(t, handle.Events())
		if ev.Kind != EventItem || string(ev.Payload) != want {
			t.Fatalf("got %v %q, want item %q", ev.Kind, ev.Payload, want)
		}
	}

	handle.Stop()
	handle.Stop()
	waitClosed(t, handle.Events())
}

func TestHTTPDialerRejectsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, "HTTP Basic: Access denied.")
	}))
	defer server.Close()

	_, err := (&HTTPDialer{}).Dial(context.Background(), targetFor(t, server))
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusUnauthorized || string(statusErr.Body) != "HTTP Basic: Access denied." {
		t.Fatalf("unexpected status error %+v", statusErr)
	}
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Error("IsStatus should match 401")
	}
}

func TestHTTPDialerReconnectsAfterDrop(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		if n == 1 {
			writeLine(w, "{\"id\":1}\n")
			return
		}
		writeLine(w, "{\"id\":2}\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 3, Backoff: 10 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer handle.Stop()

	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		ev := nextEvent(t, handle.Events())
		if ev.Kind != EventItem || string(ev.Payload) != want {
			t.Fatalf("got %v %q, want item %q", ev.Kind, ev.Payload, want)
		}
	}
	if connections.Load() != 2 {
		t.Fatalf("expected 2 connections, got %d", connections.Load())
	}
}

func TestHTTPDialerMaxReconnects(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) == 1 {
			writeLine(w, "{\"id\":1}\n")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 2, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if ev := nextEvent(t, handle.Events()); ev.Kind != EventItem {
		t.Fatalf("expected item first, got %v", ev.Kind)
	}
	ev := nextEvent(t, handle.Events())
	if ev.Kind != EventMaxReconnects || ev.Retries != 2 {
		t.Fatalf("expected max reconnects after 2 retries, got %+v", ev)
	}
	if ev.Timeout != 10*time.Millisecond {
		t.Errorf("timeout = %v", ev.Timeout)
	}
	waitClosed(t, handle.Events())
}

func TestHTTPDialerBudgetSpentByAcceptedThenDropped(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 2, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ev := nextEvent(t, handle.Events())
	if ev.Kind != EventMaxReconnects || ev.Retries != 2 {
		t.Fatalf("expected max reconnects after 2 retries, got %+v", ev)
	}
	waitClosed(t, handle.Events())
	if got := connections.Load(); got != 3 {
		t.Fatalf("expected the first connection plus 2 retries, got %d", got)
	}
}

func TestHTTPDialerBudgetRestoredAfterDelivery(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		switch {
		case n <= 4:
			writeLine(w, fmt.Sprintf("{\"id\":%d}\n", n))
		case n == 5:
			writeLine(w, "{\"id\":5}\n")
			<-r.Context().Done()
		}
	}))
	defer server.Close()

	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 1, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer handle.Stop()

	for id := 1; id <= 5; id++ {
		ev := nextEvent(t, handle.Events())
		if want := fmt.Sprintf("{\"id\":%d}", id); ev.Kind != EventItem || string(ev.Payload) != want {
			t.Fatalf("got %v %q, want item %q", ev.Kind, ev.Payload, want)
		}
	}
}

func TestHTTPDialerIdleConnectionIsDropped(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) == 1 {
			writeLine(w, "{\"id\":1}\n")
		} else {
			writeLine(w, " \n")
		}
		<-r.Context().Done()
	}))
	defer server.Close()

	target := targetFor(t, server)
	target.IdleTimeout = 50 * time.Millisecond
	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 1, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if ev := nextEvent(t, handle.Events()); ev.Kind != EventItem {
		t.Fatalf("expected item first, got %v", ev.Kind)
	}
	ev := nextEvent(t, handle.Events())
	if ev.Kind != EventMaxReconnects || ev.Retries != 1 {
		t.Fatalf("expected max reconnects after the silent retry, got %+v", ev)
	}
	waitClosed(t, handle.Events())
	if got := connections.Load(); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}

func TestHTTPDialerKeepAlivesHoldConnection(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections.Add(1)
		for i := 0; i < 8; i++ {
			writeLine(w, " \r\n")
			time.Sleep(20 * time.Millisecond)
		}
		writeLine(w, "{\"id\":1}\r\n")
		<-r.Context().Done()
	}))
	defer server.Close()

	target := targetFor(t, server)
	target.IdleTimeout = 80 * time.Millisecond
	handle, err := (&HTTPDialer{}).Dial(context.Background(), target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer handle.Stop()

	if ev := nextEvent(t, handle.Events()); ev.Kind != EventItem || string(ev.Payload) != `{"id":1}` {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := connections.Load(); got != 1 {
		t.Fatalf("keep-alives should hold the connection, got %d connections", got)
	}
}

func TestHTTPDialerErrorOnReconnectRejected(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections.Add(1) == 1 {
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "locked")
	}))
	defer server.Close()

	dialer := &HTTPDialer{Retry: Retry{MaxRetries: 5, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	ev := nextEvent(t, handle.Events())
	if ev.Kind != EventError || string(ev.Payload) != "locked" {
		t.Fatalf("expected error event, got %+v", ev)
	}
	waitClosed(t, handle.Events())
}

func TestHTTPDialerConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	target := targetFor(t, server)
	target.Timeout = 50 * time.Millisecond
	start := time.Now()
	if _, err := (&HTTPDialer{}).Dial(context.Background(), target); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not honored")
	}
}

func TestWebSocketDialer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _, ok := r.BasicAuth(); !ok || user != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "done")
		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"id":1}`))
		_ = conn.Write(ctx, websocket.MessageText, []byte("  "))
		_ = conn.Write(ctx, websocket.MessageBinary, []byte{0x01})
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"id":2}`))
		_, _, _ = conn.Read(ctx)
	}))
	defer server.Close()

	handle, err := (&WebSocketDialer{}).Dial(context.Background(), targetFor(t, server))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	for _, want := range []string{`{"id":1}`, `{"id":2}`} {
		ev := nextEvent(t, handle.Events())
		if ev.Kind != EventItem || string(ev.Payload) != want {
			t.Fatalf("got %v %q, want item %q", ev.Kind, ev.Payload, want)
		}
	}
	handle.Stop()
	waitClosed(t, handle.Events())
}

func TestWebSocketDialerIdleConnectionIsDropped(t *testing.T) {
	var connections atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connections.Add(1)
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusInternalError, "done")
		ctx := conn.CloseRead(r.Context())
		if n == 1 {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"id":1}`))
		}
		<-ctx.Done()
	}))
	defer server.Close()

	target := targetFor(t, server)
	target.IdleTimeout = 50 * time.Millisecond
	dialer := &WebSocketDialer{Retry: Retry{MaxRetries: 1, Backoff: 5 * time.Millisecond}}
	handle, err := dialer.Dial(context.Background(), target)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if ev := nextEvent(t, handle.Events()); ev.Kind != EventItem {
		t.Fatalf("expected item first, got %v", ev.Kind)
	}
	ev := nextEvent(t, handle.Events())
	if ev.Kind != EventMaxReconnects || ev.Retries != 1 {
		t.Fatalf("expected max reconnects after the silent retry, got %+v", ev)
	}
	waitClosed(t, handle.Events())
}

func TestWebSocketDialerUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	target := targetFor(t, server)
	target.Username = ""
	_, err := (&WebSocketDialer{}).Dial(context.Background(), target)
	if !IsStatus(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	r := Retry{Backoff: time.Second, MaxBackoff: 3 * time.Second}.withDefaults()
	if r.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries default = %d", r.MaxRetries)
	}
	for attempt, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 5: 3 * time.Second} {
		if got := r.delay(attempt); got != want {
			t.Errorf("delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}
