package campfiretest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
)

type subscriber struct {
	frames chan []byte
	done   chan struct{}
}

// Publish sends a raw frame to every live stream of a room.
func (s *Server) Publish(roomID int64, frame []byte) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.streams[roomID]))
	for sub := range s.streams[roomID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.frames <- frame:
		case <-sub.done:
		}
	}
}

// Subscribers returns the number of live streams open on a room.
func (s *Server) Subscribers(roomID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[roomID])
}

// DropStreams closes every live stream of a room. Clients see a lost connection.
func (s *Server) DropStreams(roomID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(roomID)
}

// RejectStreams makes new stream requests for a room fail with status.
// A zero status accepts them again.
func (s *Server) RejectStreams(roomID int64, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.rejects, roomID)
		return
	}
	s.rejects[roomID] = status
}

func (s *Server) dropLocked(roomID int64) {
	for sub := range s.streams[roomID] {
		close(sub.done)
	}
	delete(s.streams, roomID)
}

func (s *Server) subscribe(roomID int64) *subscriber {
	sub := &subscriber{frames: make(chan []byte, 64), done: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams[roomID] == nil {
		s.streams[roomID] = make(map[*subscriber]struct{})
	}
	s.streams[roomID][sub] = struct{}{}
	return sub
}

func (s *Server) unsubscribe(roomID int64, sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.streams[roomID]; ok {
		delete(subs, sub)
	}
}

// keepAliveLine is the blank line the service sends between frames.
var keepAliveLine = []byte(" \r\n")

// liveHandler serves GET /room/{id}/live.json as a line stream, or as a
// WebSocket when the request asks for an upgrade. It is mounted beside the
// gin engine so the upgrade can hijack the raw connection.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests[r.Method+" "+r.URL.Path]++
	s.mu.Unlock()

	if _, err := s.accountFor(r); err != nil {
		s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
		http.Error(w, "HTTP Basic: Access denied.", http.StatusUnauthorized)
		return
	}

	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	s.mu.Lock()
	_, known := s.rooms[roomID]
	status := s.rejects[roomID]
	s.mu.Unlock()
	if err != nil || !known {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.liveWebSocket(w, r, roomID)
		return
	}
	s.liveLines(w, r, roomID)
}

func (s *Server) liveLines(w http.ResponseWriter, r *http.Request, roomID int64) {
	sub := s.subscribe(roomID)
	defer s.unsubscribe(roomID, sub)

	flusher, _ := w.(http.Flusher)
	write := func(line []byte) bool {
		if _, err := w.Write(line); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if !write(keepAliveLine) {
		return
	}
	s.log.Debug().Int64("room_id", roomID).Msg("line stream opened")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-ticker.C:
			if !write(keepAliveLine) {
				return
			}
		case frame := <-sub.frames:
			line := make([]byte, 0, len(frame)+2)
			line = append(append(line, frame...), '\r', '\n')
			if !write(line) {
				return
			}
		}
	}
}

func (s *Server) liveWebSocket(w http.ResponseWriter, r *http.Request, roomID int64) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	sub := s.subscribe(roomID)
	defer s.unsubscribe(roomID, sub)
	s.log.Debug().Int64("room_id", roomID).Msg("websocket stream opened")

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			conn.Close(websocket.StatusGoingAway, "stream dropped")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, websocket.MessageText, []byte(" ")); err != nil {
				return
			}
		case frame := <-sub.frames:
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		}
	}
}

func encodeJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
