package room

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestSpeakVariantsPostMessageType(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.handle(http.MethodPost, "/room/1/speak.json", func(body any) (any, error) {
		sent := body.(struct {
			Message outgoingMessage `json:"message"`
		})
		return map[string]any{"message": map[string]any{
			"id":         42,
			"body":       sent.Message.Body,
			"type":       sent.Message.Type,
			"room_id":    1,
			"user_id":    7,
			"created_at": "2011/06/14 16:21:48 +0000",
		}}, nil
	})
	ctx := context.Background()

	cases := []struct {
		name     string
		send     func(context.Context, string) (*Message, error)
		body     string
		wantType string
	}{
		{"speak", r.Speak, "hello", TextMessage},
		{"paste", r.Paste, "line 1\nline 2", PasteMessage},
		{"play", r.Play, "rimshot", SoundMessage},
		{"tweet", r.Tweet, "https://twitter.com/x/status/1", TweetMessage},
	}
	for _, tc := range cases {
		msg, err := tc.send(ctx, tc.body)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if msg.Type != tc.wantType || msg.Body != tc.body || msg.User == nil || msg.User.ID != 7 {
			t.Fatalf("%s: unexpected message %+v", tc.name, msg)
		}
	}
	if got := sess.count(http.MethodPost, "/room/1/speak.json"); got != 4 {
		t.Fatalf("expected 4 posts, got %d", got)
	}
}

func TestJoinLockUnlock(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.reply(http.MethodPost, "/room/1/lock.xml", nil)
	sess.reply(http.MethodPost, "/room/1/unlock.xml", nil)
	ctx := context.Background()

	if err := r.Join(ctx); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := r.Lock(ctx); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := r.Unlock(ctx); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	for _, path := range []string{"/room/1/join.xml", "/room/1/lock.xml", "/room/1/unlock.xml"} {
		if sess.count(http.MethodPost, path) != 1 {
			t.Fatalf("expected one POST %s", path)
		}
	}
}

func TestTranscript(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.reply(http.MethodGet, "/room/1/transcript/2011/06/04.json", map[string]any{"messages": []any{
		map[string]any{"id": 1, "type": TimestampMessage, "room_id": 1, "user_id": nil, "created_at": "2011/06/04 10:00:00 +0000"},
		map[string]any{"id": 2, "body": "morning", "type": TextMessage, "room_id": 1, "user_id": 7, "created_at": "2011/06/04 10:01:00 +0000"},
	}})

	msgs, err := r.Transcript(context.Background(), time.Date(2011, 6, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if len(msgs) != 2 || msgs[0].User != nil || msgs[1].User.Name != "alice" {
		t.Fatalf("unexpected transcript: %+v", msgs)
	}
}

func TestSearchFiltersToRoom(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.reply(http.MethodGet, "/search/deploy%20failed.json", map[string]any{"messages": []any{
		map[string]any{"id": 1, "body": "deploy failed", "type": TextMessage, "room_id": 1, "user_id": 7, "created_at": "2011-06-14T16:21:48Z"},
		map[string]any{"id": 2, "body": "deploy failed too", "type": TextMessage, "room_id": 2, "user_id": 7, "created_at": "2011-06-14T16:22:48Z"},
	}})

	msgs, err := r.Search(context.Background(), "deploy failed")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != 1 {
		t.Fatalf("expected only room 1 results, got %+v", msgs)
	}
}

func TestRecentQuery(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.reply(http.MethodGet, "/room/1/recent.json?limit=10&since_message_id=", map[string]any{"messages": []any{}})
	sess.reply(http.MethodGet, "/room/1/recent.json?limit=3&since_message_id=99", map[string]any{"messages": []any{
		map[string]any{"id": 100, "body": "new", "type": TextMessage, "room_id": 1, "user_id": 7, "created_at": "2011-06-14T16:21:48Z"},
	}})
	ctx := context.Background()

	msgs, err := r.Recent(ctx, RecentOptions{})
	if err != nil || len(msgs) != 0 {
		t.Fatalf("recent defaults: %v %+v", err, msgs)
	}
	msgs, err = r.Recent(ctx, RecentOptions{Limit: 3, SinceMessageID: 99})
	if err != nil || len(msgs) != 1 || msgs[0].ID != 100 {
		t.Fatalf("recent since: %v %+v", err, msgs)
	}
}

func TestUploadAndFiles(t *testing.T) {
	r, sess := newTestRoom(t, Options{})
	sess.reply(http.MethodPost, "/room/1/uploads.json", map[string]any{"upload": map[string]any{
		"id":           5,
		"name":         "notes.txt",
		"byte_size":    5,
		"content_type": "text/plain",
		"full_url":     "https://acme.campfirenow.com/room/1/uploads/5/notes.txt",
		"room_id":      1,
		"user_id":      7,
		"created_at":   "2011/06/14 16:21:48 +0000",
	}})
	sess.reply(http.MethodGet, "/room/1/uploads.json", map[string]any{"uploads": []any{
		map[string]any{"id": 5, "full_url": "https://acme.campfirenow.com/room/1/uploads/5/notes.txt", "created_at": "2011/06/14 16:21:48 +0000"},
		map[string]any{"id": 6, "full_url": "https://acme.campfirenow.com/room/1/uploads/6/logo.png"},
	}})
	ctx := context.Background()

	upload, err := r.Upload(ctx, "/tmp/notes.json", "", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if upload.ID != 5 || upload.CreatedAt.IsZero() {
		t.Fatalf("unexpected upload: %+v", upload)
	}
	call := sess.multiparts[0]
	if call.field != "upload" || call.filename != "notes.json" || call.content != "hello" {
		t.Fatalf("unexpected multipart call: %+v", call)
	}
	if !strings.HasPrefix(call.contentType, "application/json") {
		t.Fatalf("content type = %q", call.contentType)
	}

	files, err := r.Files(ctx)
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || !strings.HasSuffix(files[1], "logo.png") {
		t.Fatalf("unexpected files: %v", files)
	}
}
