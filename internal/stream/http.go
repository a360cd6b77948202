package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/log"
)

// maxFrameBytes bounds a single line-delimited payload.
const maxFrameBytes = 1 << 20

// HTTPDialer streams line-delimited JSON over a long-lived chunked HTTP response.
// Whitespace-only lines are keep-alives and are dropped.
type HTTPDialer struct {
	// Client performs the requests. It must not set an overall Timeout. If nil, http.DefaultClient is used.
	Client *http.Client
	Retry  Retry
	Logger *zerolog.Logger
}

// Dial connects to target and starts the read loop.
func (d *HTTPDialer) Dial(ctx context.Context, target Target) (Handle, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	scheme := "http"
	if target.TLS {
		scheme = "https"
	}
	url := scheme + "://" + target.Host + target.Path
	logger := log.OrNop(d.Logger)

	connect := func(ctx context.Context) (frameReader, error) {
		return connectHTTP(ctx, client, url, target)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	first, err := connect(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	logger.Debug().Str("url", url).Msg("http stream connected")
	return startHandle(streamCtx, cancel, first, connect, d.Retry, url, logger), nil
}

func connectHTTP(ctx context.Context, client *http.Client, url string, target Target) (frameReader, error) {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// The connection context outlives the header timeout; the timer only
	// guards the wait for the response headers.
	connCtx, connCancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		connCancel()
	})

	request, err := http.NewRequestWithContext(connCtx, http.MethodGet, url, nil)
	if err != nil {
		timer.Stop()
		connCancel()
		return nil, fmt.Errorf("stream: create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if target.Username != "" {
		request.SetBasicAuth(target.Username, target.Password)
	}

	response, err := client.Do(request)
	if !timer.Stop() && timedOut.Load() {
		if response != nil {
			response.Body.Close()
		}
		connCancel()
		return nil, fmt.Errorf("stream: connect to %s: timed out after %s", url, timeout)
	}
	if err != nil {
		connCancel()
		return nil, fmt.Errorf("stream: connect to %s: %w", url, err)
	}

	if response.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		response.Body.Close()
		connCancel()
		body = bytes.TrimSpace(body)
		if response.StatusCode >= 400 && response.StatusCode < 500 {
			return nil, &StatusError{StatusCode: response.StatusCode, Body: body}
		}
		return nil, fmt.Errorf("stream: connect to %s: status %d", url, response.StatusCode)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameBytes)
	scanner.Split(scanFrames)
	return newHTTPFrames(response.Body, scanner, connCancel, target.idleTimeout()), nil
}

type httpFrames struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	// idle fires when no line arrives in time and aborts the body read.
	idle    time.Duration
	timer   *time.Timer
	idleOut atomic.Bool
}

func newHTTPFrames(body io.ReadCloser, scanner *bufio.Scanner, cancel context.CancelFunc, idle time.Duration) *httpFrames {
	f := &httpFrames{body: body, scanner: scanner, cancel: cancel, idle: idle}
	f.timer = time.AfterFunc(idle, func() {
		f.idleOut.Store(true)
		cancel()
	})
	f.timer.Stop()
	return f
}

// ReadFrame returns the next non-blank line. Every line, keep-alives included,
// restarts the idle clock; the clock is paused while the caller holds a frame.
func (f *httpFrames) ReadFrame(_ context.Context) ([]byte, error) {
	f.timer.Reset(f.idle)
	defer f.timer.Stop()

	for f.scanner.Scan() {
		f.timer.Reset(f.idle)
		frame := bytes.TrimSpace(f.scanner.Bytes())
		if len(frame) == 0 {
			continue
		}
		out := make([]byte, len(frame))
		copy(out, frame)
		return out, nil
	}
	if f.idleOut.Load() {
		return nil, fmt.Errorf("%w: nothing received for %s", ErrIdle, f.idle)
	}
	if err := f.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (f *httpFrames) Close() error {
	f.timer.Stop()
	f.cancel()
	return f.body.Close()
}

// scanFrames splits on \n, \r or \r\n.
func scanFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ Dialer = (*HTTPDialer)(nil)

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == code
}
