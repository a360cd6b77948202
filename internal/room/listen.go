package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vovakirdan/campfire-client/internal/stream"
)

// Status is the state of a room's live stream.
type Status int

const (
	StatusIdle Status = iota
	StatusJoining
	StatusListening
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusJoining:
		return "joining"
	case StatusListening:
		return "listening"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Callback receives live messages, one at a time, in arrival order.
type Callback func(*Message)

// ListenOption overrides room defaults for a single Listen call.
type ListenOption func(*listenSettings)

type listenSettings struct {
	policy  FailurePolicy
	timeout time.Duration
}

// WithFailurePolicy sets how unresolvable authors are handled.
func WithFailurePolicy(policy FailurePolicy) ListenOption {
	return func(s *listenSettings) { s.policy = policy }
}

// WithStreamTimeout bounds each stream connection attempt.
func WithStreamTimeout(timeout time.Duration) ListenOption {
	return func(s *listenSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// Status returns the current stream state.
func (r *Room) Status() Status {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	return r.status
}

// Listening reports whether a live stream is connected.
func (r *Room) Listening() bool {
	return r.Status() == StatusListening
}

// Listen joins the room, opens the live stream and calls callback for every
// message until StopListening, Leave, ctx cancellation or a stream failure.
// It blocks the caller. A stop returns nil, ctx cancellation returns ctx.Err()
// and stream failures return a *ListenFailedError.
func (r *Room) Listen(ctx context.Context, callback Callback, opts ...ListenOption) error {
	if callback == nil {
		return ErrNoCallback
	}
	settings := listenSettings{policy: r.policy, timeout: r.timeout}
	for _, opt := range opts {
		opt(&settings)
	}

	r.streamMu.Lock()
	if r.status == StatusJoining || r.status == StatusListening {
		r.streamMu.Unlock()
		return ErrAlreadyListening
	}
	r.generation++
	gen := r.generation
	listenCtx, cancel := context.WithCancel(ctx)
	r.status = StatusJoining
	r.stopRequested = false
	r.cancelListen = cancel
	r.streamMu.Unlock()
	defer cancel()

	handle, err := r.connect(listenCtx, settings)
	if err != nil {
		return r.finish(ctx, gen, err)
	}

	r.streamMu.Lock()
	if r.generation != gen || r.stopRequested {
		r.streamMu.Unlock()
		handle.Stop()
		return r.finish(ctx, gen, nil)
	}
	r.handle = handle
	r.status = StatusListening
	r.streamMu.Unlock()
	r.log.Info().Str("room", r.Name()).Msg("listening")

	done := make(chan error, 1)
	go func() {
		done <- r.dispatch(listenCtx, gen, handle, callback, settings.policy)
	}()
	return r.finish(ctx, gen, <-done)
}

// StopListening tears down the live stream. It is a no-op when not listening.
// On return the status is StatusStopped.
func (r *Room) StopListening() {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	if r.status != StatusJoining && r.status != StatusListening {
		return
	}
	r.stopRequested = true
	if r.cancelListen != nil {
		r.cancelListen()
		r.cancelListen = nil
	}
	if r.handle != nil {
		r.handle.Stop()
		r.handle = nil
	}
	r.status = StatusStopped
	r.log.Info().Msg("stopped listening")
}

func (r *Room) connect(ctx context.Context, settings listenSettings) (stream.Handle, error) {
	if err := r.Join(ctx); err != nil {
		return nil, err
	}
	username, password, err := r.session.BasicAuthMaterial(ctx)
	if err != nil {
		return nil, fmt.Errorf("room %d: stream credentials: %w", r.id, err)
	}
	target := stream.Target{
		Host:     r.session.StreamHost(),
		Path:     fmt.Sprintf("/room/%d/live.json", r.id),
		Username: username,
		Password: password,
		Timeout:  settings.timeout,
		TLS:      r.session.SSL(),
	}
	handle, err := r.dialer.Dial(ctx, target)
	if err != nil {
		failure := &ListenFailedError{Room: r.Name(), Reason: "could not connect", Err: err}
		var statusErr *stream.StatusError
		if errors.As(err, &statusErr) {
			failure.Payload = statusErr.Body
		}
		return nil, failure
	}
	return handle, nil
}

func (r *Room) dispatch(ctx context.Context, gen uint64, handle stream.Handle, callback Callback, policy FailurePolicy) error {
	defer handle.Stop()
	events := handle.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				if ctx.Err() != nil || r.stopped(gen) {
					return nil
				}
				return &ListenFailedError{Room: r.Name(), Reason: fmt.Sprintf("got disconnected from %s!", r.Name())}
			}
			switch event.Kind {
			case stream.EventItem:
				if err := r.deliver(ctx, event.Payload, callback, policy); err != nil {
					return err
				}
			case stream.EventError:
				return &ListenFailedError{Room: r.Name(), Reason: "stream error", Payload: event.Payload, Err: event.Err}
			case stream.EventMaxReconnects:
				r.log.Warn().Int("retries", event.Retries).Dur("timeout", event.Timeout).Msg("stream reconnect budget exhausted")
				return &ListenFailedError{
					Room:    r.Name(),
					Reason:  fmt.Sprintf("gave up after %d reconnects", event.Retries),
					Retries: event.Retries,
				}
			}
		}
	}
}

func (r *Room) deliver(ctx context.Context, payload []byte, callback Callback, policy FailurePolicy) error {
	var raw RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		r.log.Warn().Err(err).Bytes("payload", payload).Msg("skipping undecodable frame")
		return nil
	}
	msg, err := r.normalizer.Normalize(ctx, raw)
	if err != nil {
		var fetchErr *UserFetchError
		if errors.As(err, &fetchErr) && policy == PolicyAbort && ctx.Err() == nil {
			return &ListenFailedError{Room: r.Name(), Reason: "could not resolve message author", Payload: payload, Err: err}
		}
		r.log.Warn().Err(err).Int64("message_id", raw.ID).Msg("skipping message")
		return nil
	}
	callback(msg)
	return nil
}

func (r *Room) stopped(gen uint64) bool {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()
	return r.generation != gen || r.stopRequested
}

// finish settles the status for listen generation gen and picks Listen's result.
func (r *Room) finish(ctx context.Context, gen uint64, err error) error {
	r.streamMu.Lock()
	defer r.streamMu.Unlock()

	current := r.generation == gen
	stopped := !current || r.stopRequested
	if current {
		r.handle = nil
		r.cancelListen = nil
	}

	switch {
	case stopped:
		if current {
			r.status = StatusStopped
		}
		return nil
	case ctx.Err() != nil:
		r.status = StatusStopped
		r.log.Info().Msg("listen cancelled")
		return ctx.Err()
	case err != nil:
		r.status = StatusFailed
		r.log.Error().Err(err).Msg("listen failed")
		return err
	default:
		r.status = StatusStopped
		return nil
	}
}
