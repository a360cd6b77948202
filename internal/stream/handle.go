package stream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// frameReader yields payloads from one physical connection.
type frameReader interface {
	// ReadFrame returns the next non-empty payload.
	ReadFrame(ctx context.Context) ([]byte, error)
	Close() error
}

type connectFunc func(ctx context.Context) (frameReader, error)

// handle drives one logical stream across reconnects.
type handle struct {
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan Event
	connect connectFunc
	retry   Retry
	log     *zerolog.Logger
	target  string

	stopOnce sync.Once
}

func startHandle(ctx context.Context, cancel context.CancelFunc, first frameReader, connect connectFunc, retry Retry, target string, logger *zerolog.Logger) *handle {
	h := &handle{
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan Event, 16),
		connect: connect,
		retry:   retry.withDefaults(),
		log:     logger,
		target:  target,
	}
	go h.run(first)
	return h
}

func (h *handle) Events() <-chan Event {
	return h.events
}

func (h *handle) Stop() {
	h.stopOnce.Do(h.cancel)
}

func (h *handle) run(conn frameReader) {
	defer close(h.events)
	defer h.cancel()

	// failures counts reconnects since the last connection that proved healthy.
	failures := 0
	for {
		opened := time.Now()
		delivered, err := h.pump(conn)
		_ = conn.Close()
		if h.ctx.Err() != nil {
			return
		}
		if delivered || time.Since(opened) >= h.retry.StableAfter {
			failures = 0
		}
		h.log.Warn().Err(err).Str("target", h.target).Int("failures", failures).Msg("stream connection lost")

		conn, failures = h.reconnect(failures)
		if conn == nil {
			return
		}
	}
}

// pump forwards frames until the connection fails or the handle is stopped.
// It reports whether at least one frame was delivered.
func (h *handle) pump(conn frameReader) (bool, error) {
	delivered := false
	for {
		payload, err := conn.ReadFrame(h.ctx)
		if err != nil {
			return delivered, err
		}
		if !h.emit(Event{Kind: EventItem, Payload: payload}) {
			return delivered, h.ctx.Err()
		}
		delivered = true
	}
}

// reconnect retries with linear backoff while the budget lasts. A connection
// that is accepted and then dropped before proving healthy still spends an
// attempt. It returns nil when the stream must end; the terminal event has
// already been emitted in that case.
func (h *handle) reconnect(failures int) (frameReader, int) {
	var lastDelay time.Duration
	for failures < h.retry.MaxRetries {
		failures++
		lastDelay = h.retry.delay(failures)
		timer := time.NewTimer(lastDelay)
		select {
		case <-h.ctx.Done():
			timer.Stop()
			return nil, failures
		case <-timer.C:
		}

		conn, err := h.connect(h.ctx)
		if err == nil {
			h.log.Info().Str("target", h.target).Int("attempt", failures).Msg("stream reconnected")
			return conn, failures
		}
		if h.ctx.Err() != nil {
			return nil, failures
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			h.emit(Event{Kind: EventError, Payload: statusErr.Body, Err: err})
			return nil, failures
		}
		h.log.Debug().Err(err).Str("target", h.target).Int("attempt", failures).Msg("stream reconnect failed")
	}

	if lastDelay == 0 {
		lastDelay = h.retry.delay(failures)
	}
	h.emit(Event{Kind: EventMaxReconnects, Timeout: lastDelay, Retries: h.retry.MaxRetries})
	return nil, failures
}

func (h *handle) emit(event Event) bool {
	select {
	case h.events <- event:
		return true
	case <-h.ctx.Done():
		return false
	}
}
