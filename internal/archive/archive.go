// Package archive stores live room messages in SQLite so a listener can
// keep a local transcript and resume from the last message it saw.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/campfire-client/internal/room"
)

// Schema creates the archive tables. Open applies it; OpenWithSetup leaves it to the caller.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY,
	room_id    INTEGER NOT NULL,
	user_id    INTEGER,
	user_name  TEXT NOT NULL DEFAULT '',
	type       TEXT NOT NULL,
	body       TEXT NOT NULL DEFAULT '',
	starred    BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	stored_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id DESC);
`

// Store is a SQLite message archive.
type Store struct {
	db *sql.DB
}

// Open opens or creates the archive at path and applies Schema.
func Open(path string) (*Store, error) {
	return OpenWithSetup(path, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// OpenWithSetup opens the archive and runs setup before first use.
// Tests use it with ":memory:".
func OpenWithSetup(path string, setup func(*sql.DB) error) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// one connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores msg. A message already archived is left untouched and Save
// reports false.
func (s *Store) Save(ctx context.Context, msg *room.Message) (bool, error) {
	if msg == nil {
		return false, errors.New("save message: nil message")
	}
	var userID sql.NullInt64
	var userName string
	if msg.User != nil {
		userID = sql.NullInt64{Int64: msg.User.ID, Valid: true}
		userName = msg.User.Name
	}

	query := `
		INSERT OR IGNORE INTO messages (id, room_id, user_id, user_name, type, body, starred, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.ID, msg.RoomID, userID, userName, msg.Type, msg.Body, msg.Starred, msg.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

// Recent returns up to limit archived messages of a room, oldest first.
// Authors carry only their id and name.
func (s *Store) Recent(ctx context.Context, roomID int64, limit int) ([]*room.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, room_id, user_id, user_name, type, body, starred, created_at
		FROM (
			SELECT * FROM messages
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*room.Message
	for rows.Next() {
		var (
			msg       room.Message
			userID    sql.NullInt64
			userName  string
			createdAt time.Time
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &userID, &userName, &msg.Type, &msg.Body, &msg.Starred, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = createdAt
		if userID.Valid {
			msg.User = &room.User{ID: userID.Int64, Name: userName}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// LastMessageID returns the newest archived message id of a room, or 0.
func (s *Store) LastMessageID(ctx context.Context, roomID int64) (int64, error) {
	var id sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM messages WHERE room_id = ?`, roomID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("query last message: %w", err)
	}
	return id.Int64, nil
}
