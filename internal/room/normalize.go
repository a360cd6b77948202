package room

import (
	"context"
	"strings"
	"time"
)

// timestampLayouts are tried in order. The service has used both the
// slash-separated form with a numeric zone and RFC 3339.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006/01/02 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, &MalformedTimestampError{Value: value}
}

// UserLookup resolves an author id to a user, fetching it if needed.
type UserLookup interface {
	User(ctx context.Context, id int64) (*User, error)
}

// Normalizer turns wire messages into Messages.
type Normalizer struct {
	users UserLookup
}

// NewNormalizer returns a Normalizer resolving authors through users.
func NewNormalizer(users UserLookup) *Normalizer {
	return &Normalizer{users: users}
}

// Normalize resolves the author and parses created_at. A message without
// user_id keeps a nil User. Errors are *UserFetchError or *MalformedTimestampError.
func (n *Normalizer) Normalize(ctx context.Context, raw RawMessage) (*Message, error) {
	msg := &Message{
		ID:      raw.ID,
		Body:    raw.Body,
		Type:    raw.Type,
		RoomID:  raw.RoomID,
		Starred: raw.Starred,
	}

	if raw.UserID != nil {
		user, err := n.users.User(ctx, *raw.UserID)
		if err != nil {
			return nil, err
		}
		msg.User = user
	}

	createdAt, err := parseTimestamp(raw.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = createdAt
	return msg, nil
}

func (n *Normalizer) normalizeAll(ctx context.Context, raws []RawMessage) ([]*Message, error) {
	messages := make([]*Message, 0, len(raws))
	for _, raw := range raws {
		msg, err := n.Normalize(ctx, raw)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
