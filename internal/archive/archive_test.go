package archive

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/vovakirdan/campfire-client/internal/room"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenWithSetup(":memory:", func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func message(id, roomID int64, body string, user *room.User) *room.Message {
	return &room.Message{
		ID:        id,
		RoomID:    roomID,
		Body:      body,
		Type:      room.TextMessage,
		User:      user,
		CreatedAt: time.Date(2011, 6, 14, 16, 21, int(id), 0, time.UTC),
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := &room.User{ID: 7, Name: "alice"}

	inserted, err := s.Save(ctx, message(1, 1, "hello", alice))
	if err != nil || !inserted {
		t.Fatalf("first save: inserted=%v err=%v", inserted, err)
	}
	inserted, err = s.Save(ctx, message(1, 1, "hello again", alice))
	if err != nil || inserted {
		t.Fatalf("second save: inserted=%v err=%v", inserted, err)
	}

	msgs, err := s.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
	if _, err := s.Save(ctx, nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := &room.User{ID: 7, Name: "alice"}

	for id := int64(1); id <= 5; id++ {
		if _, err := s.Save(ctx, message(id, 1, "m", alice)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if _, err := s.Save(ctx, message(6, 2, "other room", nil)); err != nil {
		t.Fatalf("save: %v", err)
	}

	msgs, err := s.Recent(ctx, 1, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 3 || msgs[0].ID != 3 || msgs[2].ID != 5 {
		t.Fatalf("expected ids 3..5, got %d messages", len(msgs))
	}
	if msgs[0].User == nil || msgs[0].User.Name != "alice" {
		t.Fatalf("expected author to round trip, got %+v", msgs[0].User)
	}
	if !msgs[2].CreatedAt.Equal(time.Date(2011, 6, 14, 16, 21, 5, 0, time.UTC)) {
		t.Fatalf("unexpected created_at %s", msgs[2].CreatedAt)
	}

	other, err := s.Recent(ctx, 2, 0)
	if err != nil || len(other) != 1 || other[0].User != nil {
		t.Fatalf("unexpected other room: %+v %v", other, err)
	}
}

func TestLastMessageID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.LastMessageID(ctx, 1)
	if err != nil || id != 0 {
		t.Fatalf("empty archive: id=%d err=%v", id, err)
	}
	for _, msgID := range []int64{4, 9, 2} {
		if _, err := s.Save(ctx, message(msgID, 1, "m", nil)); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	id, err = s.LastMessageID(ctx, 1)
	if err != nil || id != 9 {
		t.Fatalf("last id = %d, %v", id, err)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Save(context.Background(), message(1, 1, "persisted", nil)); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	msgs, err := s.Recent(context.Background(), 1, 10)
	if err != nil || len(msgs) != 1 || msgs[0].Body != "persisted" {
		t.Fatalf("expected persisted message, got %+v %v", msgs, err)
	}
}
