// Package room implements a single chat room: its cached state and roster,
// message normalization, the REST operations on it, and the live message
// stream.
package room

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/campfire-client/internal/log"
	"github.com/vovakirdan/campfire-client/internal/stream"
)

// Session is the authenticated account a room talks through.
// *session.Session satisfies it.
type Session interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	PostMultipart(ctx context.Context, path, field, filename, contentType string, content io.Reader, out any) error
	BasicAuthMaterial(ctx context.Context) (username, password string, err error)
	BaseURL() string
	StreamHost() string
	SSL() bool
}

// FailurePolicy decides what a live stream does with a message whose author
// cannot be fetched. Undecodable frames and malformed timestamps are always skipped.
type FailurePolicy int

const (
	// PolicySkip logs the message and keeps listening.
	PolicySkip FailurePolicy = iota
	// PolicyAbort ends Listen with a *ListenFailedError wrapping the *UserFetchError.
	PolicyAbort
)

// Options tunes a Room. The zero value is usable.
type Options struct {
	// Dialer opens the live stream. Defaults to an HTTP line-stream dialer.
	Dialer stream.Dialer
	// StreamTimeout bounds each stream connection attempt. Defaults to 6s.
	StreamTimeout time.Duration
	// FailurePolicy applies to every Listen unless overridden with WithFailurePolicy.
	FailurePolicy FailurePolicy
	// Logger receives room events tagged with room_id. Nil disables logging.
	Logger *zerolog.Logger
}

// Room is one chat room. It exclusively owns its cached state, roster and live stream.
type Room struct {
	session    Session
	normalizer *Normalizer
	dialer     stream.Dialer
	timeout    time.Duration
	policy     FailurePolicy
	log        *zerolog.Logger

	id int64

	mu           sync.Mutex
	name         string
	topic        string
	full         bool
	limit        int
	openToGuests bool
	guestToken   string
	roster       []User
	loaded       bool

	userFetches singleflight.Group

	streamMu      sync.Mutex
	status        Status
	handle        stream.Handle
	cancelListen  context.CancelFunc
	stopRequested bool
	generation    uint64
}

// New returns a Room with only id and name known; everything else loads on demand.
func New(session Session, id int64, name string, opts Options) *Room {
	logger := log.OrNop(opts.Logger)
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &stream.HTTPDialer{Logger: logger}
	}
	timeout := opts.StreamTimeout
	if timeout <= 0 {
		timeout = stream.DefaultTimeout
	}

	r := &Room{
		session: session,
		dialer:  dialer,
		timeout: timeout,
		policy:  opts.FailurePolicy,
		id:      id,
		name:    name,
	}
	roomLogger := logger.With().Int64("room_id", id).Logger()
	r.log = &roomLogger
	r.normalizer = NewNormalizer(r)
	return r
}

// ID returns the room id.
func (r *Room) ID() int64 {
	return r.id
}

// Name returns the last known name without contacting the service.
func (r *Room) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

// Normalizer returns the normalizer bound to this room's roster.
func (r *Room) Normalizer() *Normalizer {
	return r.normalizer
}

// Join enters the room.
func (r *Room) Join(ctx context.Context) error {
	return r.post(ctx, "join", "xml", nil, nil)
}

// Leave exits the room and stops any live stream. The stream is stopped even
// when the leave request fails.
func (r *Room) Leave(ctx context.Context) error {
	err := r.post(ctx, "leave", "xml", nil, nil)
	r.StopListening()
	return err
}

// Lock prevents new users from entering and disables logging.
func (r *Room) Lock(ctx context.Context) error {
	return r.post(ctx, "lock", "xml", nil, nil)
}

// Unlock reverses Lock.
func (r *Room) Unlock(ctx context.Context) error {
	return r.post(ctx, "unlock", "xml", nil, nil)
}

func (r *Room) path(action, format string) string {
	return fmt.Sprintf("/room/%d/%s.%s", r.id, action, format)
}

func (r *Room) resourcePath() string {
	return fmt.Sprintf("/room/%d.json", r.id)
}

func (r *Room) post(ctx context.Context, action, format string, body, out any) error {
	if err := r.session.Post(ctx, r.path(action, format), body, out); err != nil {
		return fmt.Errorf("room %d %s: %w", r.id, action, err)
	}
	return nil
}
