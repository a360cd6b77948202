// Package campfiretest provides an in-memory chat service for tests and
// local experiments. It speaks the same REST and streaming paths as the
// hosted service, counts every request per route, and lets tests publish
// frames to live streams directly.
package campfiretest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/log"
)

// TimeLayout is the created_at format the service emits.
const TimeLayout = "2006/01/02 15:04:05 -0700"

// Options configures a Server.
type Options struct {
	// OAuthSecret signs bearer tokens. A fixed test secret is used when empty.
	OAuthSecret []byte
	Logger      *zerolog.Logger
	// Now overrides the clock used for created_at values.
	Now func() time.Time
	// KeepAlive is the interval of blank keep-alives on live streams.
	// Zero means DefaultKeepAlive.
	KeepAlive time.Duration
}

// DefaultKeepAlive is the keep-alive interval used when Options.KeepAlive is zero.
const DefaultKeepAlive = 500 * time.Millisecond

// Account is a user of the fake service.
type Account struct {
	ID        int64
	Name      string
	Email     string
	Admin     bool
	Token     string
	CreatedAt time.Time

	passwordHash string
}

type message struct {
	ID        int64
	Body      string
	Type      string
	RoomID    int64
	UserID    *int64
	CreatedAt time.Time
	Starred   bool
}

type upload struct {
	ID          int64
	Key         string
	Name        string
	ByteSize    int64
	ContentType string
	RoomID      int64
	UserID      int64
	CreatedAt   time.Time
}

type roomRecord struct {
	ID           int64
	Name         string
	Topic        string
	Limit        int
	OpenToGuests bool
	GuestToken   string
	Locked       bool
	members      []int64
	messages     []message
	uploads      []upload
}

// Server is the fake chat service.
type Server struct {
	handler   http.Handler
	jwt       jwtConfig
	now       func() time.Time
	keepAlive time.Duration
	log       *zerolog.Logger
	http      *httptest.Server

	mu        sync.Mutex
	nextID    int64
	accounts  map[int64]*Account
	rooms     map[int64]*roomRecord
	roomOrder []int64
	requests  map[string]int
	streams   map[int64]map[*subscriber]struct{}
	rejects   map[int64]int
}

// New builds a Server without starting a listener. Use Handler to mount it.
func New(opts Options) *Server {
	gin.SetMode(gin.TestMode)

	secret := opts.OAuthSecret
	if len(secret) == 0 {
		secret = []byte("campfiretest-secret")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	s := &Server{
		jwt:       jwtConfig{Secret: secret, Issuer: "campfiretest", TTL: time.Hour},
		now:       now,
		keepAlive: keepAlive,
		log:       log.OrNop(opts.Logger),
		nextID:    1,
		accounts:  make(map[int64]*Account),
		rooms:     make(map[int64]*roomRecord),
		requests:  make(map[string]int),
		streams:   make(map[int64]map[*subscriber]struct{}),
		rejects:   make(map[int64]int),
	}
	s.handler = s.routes()
	return s
}

// Start runs a Server on a local listener that is closed when the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	s := New(opts)
	s.http = httptest.NewServer(s.handler)
	t.Cleanup(s.Close)
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// URL returns the base URL of a started Server.
func (s *Server) URL() string {
	if s.http == nil {
		return ""
	}
	return s.http.URL
}

// Host returns host:port of a started Server, usable as a streaming host.
func (s *Server) Host() string {
	return strings.TrimPrefix(s.URL(), "http://")
}

// Close ends every live stream and stops the listener.
func (s *Server) Close() {
	s.mu.Lock()
	for roomID := range s.streams {
		s.dropLocked(roomID)
	}
	s.mu.Unlock()
	if s.http != nil {
		s.http.Close()
	}
}

// Count returns how many requests reached method and path (without query).
func (s *Server) Count(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

func (s *Server) allocID() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// routes mounts live streams on a plain mux and everything else on gin.
func (s *Server) routes() http.Handler {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.countRequests(), requestLogger(s.log))

	authed := engine.Group("/", s.authenticate())
	authed.GET("/users/:id", s.getUser)
	authed.GET("/rooms.json", s.listRooms)
	authed.GET("/presence.json", s.presence)
	authed.GET("/search/*term", s.search)
	authed.GET("/room/*path", s.roomGet)
	authed.PUT("/room/*path", s.roomPut)
	authed.POST("/room/*path", s.roomPost)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /room/{id}/live.json", s.liveHandler)
	mux.Handle("/", engine)
	return mux
}

func (s *Server) countRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.requests[c.Request.Method+" "+c.Request.URL.Path]++
		s.mu.Unlock()
		c.Next()
	}
}

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
