// Package campfire is the entry point of the client: it owns the account
// Session and hands out Room values that share it.
package campfire

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/log"
	"github.com/vovakirdan/campfire-client/internal/room"
	"github.com/vovakirdan/campfire-client/internal/session"
	"github.com/vovakirdan/campfire-client/internal/stream"
)

// Stream transports accepted by Config.Transport.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
)

// ErrRoomNotFound is returned by FindRoomByName when no room matches.
var ErrRoomNotFound = errors.New("campfire: room not found")

// Config configures a Client.
type Config struct {
	Session session.Config

	// Transport picks the live stream dialer when Dialer is nil. Defaults to TransportHTTP.
	Transport string
	// Dialer overrides Transport.
	Dialer        stream.Dialer
	Retry         stream.Retry
	StreamTimeout time.Duration
	FailurePolicy room.FailurePolicy

	Logger *zerolog.Logger
}

// Client is one account on the chat service.
type Client struct {
	session *session.Session
	options room.Options
	log     *zerolog.Logger

	mu    sync.Mutex
	rooms map[int64]*room.Room
}

// New builds a Client. No request is made until the first call that needs one.
func New(cfg Config) (*Client, error) {
	logger := log.OrNop(cfg.Logger)
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = logger
	}
	sess, err := session.New(cfg.Session)
	if err != nil {
		return nil, err
	}

	dialer := cfg.Dialer
	if dialer == nil {
		switch strings.ToLower(cfg.Transport) {
		case "", TransportHTTP:
			dialer = &stream.HTTPDialer{Client: cfg.Session.HTTPClient, Retry: cfg.Retry, Logger: logger}
		case TransportWebSocket:
			dialer = &stream.WebSocketDialer{HTTPClient: cfg.Session.HTTPClient, Retry: cfg.Retry, Logger: logger}
		default:
			return nil, fmt.Errorf("campfire: unknown stream transport %q", cfg.Transport)
		}
	}

	return &Client{
		session: sess,
		options: room.Options{
			Dialer:        dialer,
			StreamTimeout: cfg.StreamTimeout,
			FailurePolicy: cfg.FailurePolicy,
			Logger:        logger,
		},
		log:   logger,
		rooms: make(map[int64]*room.Room),
	}, nil
}

// Session returns the shared account session.
func (c *Client) Session() *session.Session {
	return c.session
}

type roomSummary struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Rooms lists the rooms visible to the account.
func (c *Client) Rooms(ctx context.Context) ([]*room.Room, error) {
	return c.listRooms(ctx, "/rooms.json")
}

// Presence lists the rooms the account is currently in.
func (c *Client) Presence(ctx context.Context) ([]*room.Room, error) {
	return c.listRooms(ctx, "/presence.json")
}

func (c *Client) listRooms(ctx context.Context, path string) ([]*room.Room, error) {
	summaries, err := c.summaries(ctx, path)
	if err != nil {
		return nil, err
	}
	rooms := make([]*room.Room, 0, len(summaries))
	for _, summary := range summaries {
		rooms = append(rooms, c.room(summary.ID, summary.Name))
	}
	return rooms, nil
}

func (c *Client) summaries(ctx context.Context, path string) ([]roomSummary, error) {
	var response struct {
		Rooms []roomSummary `json:"rooms"`
	}
	if err := c.session.Get(ctx, path, &response); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return response.Rooms, nil
}

// Room returns the room with id. The same *room.Room is returned for the same
// id, so there is at most one live stream per room per Client.
func (c *Client) Room(id int64) *room.Room {
	return c.room(id, "")
}

func (c *Client) room(id int64, name string) *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.rooms[id]; ok {
		return r
	}
	r := room.New(c.session, id, name, c.options)
	c.rooms[id] = r
	return r
}

// FindRoomByName returns the first room whose name matches exactly.
func (c *Client) FindRoomByName(ctx context.Context, name string) (*room.Room, error) {
	summaries, err := c.summaries(ctx, "/rooms.json")
	if err != nil {
		return nil, err
	}
	for _, summary := range summaries {
		if summary.Name == name {
			return c.room(summary.ID, summary.Name), nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrRoomNotFound, name)
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*room.User, error) {
	var response struct {
		User *room.User `json:"user"`
	}
	if err := c.session.Get(ctx, "/users/me.json", &response); err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	if response.User == nil {
		return nil, errors.New("current user: response has no user record")
	}
	return response.User, nil
}
