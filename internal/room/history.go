package room

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type messagesEnvelope struct {
	Messages []RawMessage `json:"messages"`
}

// Transcript returns every message posted to the room on the given day.
func (r *Room) Transcript(ctx context.Context, day time.Time) ([]*Message, error) {
	path := fmt.Sprintf("/room/%d/transcript/%04d/%02d/%02d.json", r.id, day.Year(), int(day.Month()), day.Day())
	return r.fetchMessages(ctx, path, "transcript")
}

// Search returns messages in this room containing term.
func (r *Room) Search(ctx context.Context, term string) ([]*Message, error) {
	var envelope messagesEnvelope
	if err := r.session.Get(ctx, "/search/"+url.PathEscape(term)+".json", &envelope); err != nil {
		return nil, fmt.Errorf("room %d search: %w", r.id, err)
	}
	matching := envelope.Messages[:0]
	for _, raw := range envelope.Messages {
		if raw.RoomID == r.id {
			matching = append(matching, raw)
		}
	}
	return r.normalizer.normalizeAll(ctx, matching)
}

// Recent returns the latest messages, oldest first.
func (r *Room) Recent(ctx context.Context, opts RecentOptions) ([]*Message, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if opts.SinceMessageID > 0 {
		query.Set("since_message_id", strconv.FormatInt(opts.SinceMessageID, 10))
	} else {
		query.Set("since_message_id", "")
	}
	path := fmt.Sprintf("/room/%d/recent.json?%s", r.id, query.Encode())
	return r.fetchMessages(ctx, path, "recent")
}

func (r *Room) fetchMessages(ctx context.Context, path, action string) ([]*Message, error) {
	var envelope messagesEnvelope
	if err := r.session.Get(ctx, path, &envelope); err != nil {
		return nil, fmt.Errorf("room %d %s: %w", r.id, action, err)
	}
	return r.normalizer.normalizeAll(ctx, envelope.Messages)
}
