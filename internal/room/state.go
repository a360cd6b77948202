package room

import (
	"context"
	"fmt"
)

type roomEnvelope struct {
	Room roomAttributes `json:"room"`
}

// ensureLoaded fetches room state once. Later calls trust the cache.
func (r *Room) ensureLoaded(ctx context.Context) error {
	r.mu.Lock()
	loaded := r.loaded
	r.mu.Unlock()
	if loaded {
		return nil
	}
	return r.forceReload(ctx)
}

// forceReload fetches room state and replaces every cached field, roster included.
func (r *Room) forceReload(ctx context.Context) error {
	var envelope roomEnvelope
	if err := r.session.Get(ctx, r.resourcePath(), &envelope); err != nil {
		return fmt.Errorf("load room %d: %w", r.id, err)
	}

	attrs := envelope.Room
	roster := make([]User, 0, len(attrs.Users))
	for _, raw := range attrs.Users {
		user, err := raw.toUser()
		if err != nil {
			return fmt.Errorf("load room %d: user %d: %w", r.id, raw.ID, err)
		}
		roster = append(roster, user)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if attrs.Name != "" {
		r.name = attrs.Name
	}
	r.topic = attrs.Topic
	r.full = attrs.Full
	r.limit = attrs.MembershipLimit
	r.openToGuests = attrs.OpenToGuests
	r.guestToken = attrs.ActiveTokenValue
	r.roster = roster
	r.loaded = true
	r.log.Debug().Int("users", len(roster)).Msg("room state loaded")
	return nil
}

// Topic reloads room state and returns the current topic.
func (r *Room) Topic(ctx context.Context) (string, error) {
	if err := r.forceReload(ctx); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topic, nil
}

// CurrentUsers reloads room state and returns the users present right now.
func (r *Room) CurrentUsers(ctx context.Context) ([]User, error) {
	if err := r.forceReload(ctx); err != nil {
		return nil, err
	}
	return r.rosterCopy(), nil
}

// Users returns the cached roster, loading it on first use.
func (r *Room) Users(ctx context.Context) ([]User, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return r.rosterCopy(), nil
}

// Full reports whether the room has reached its membership limit.
func (r *Room) Full(ctx context.Context) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.full, nil
}

// MembershipLimit returns how many members the room holds.
func (r *Room) MembershipLimit(ctx context.Context) (int, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit, nil
}

// GuestAccessEnabled reports whether guests may join.
func (r *Room) GuestAccessEnabled(ctx context.Context) (bool, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openToGuests, nil
}

// GuestInviteCode returns the active guest token, empty when guest access is off.
func (r *Room) GuestInviteCode(ctx context.Context) (string, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.openToGuests {
		return "", nil
	}
	return r.guestToken, nil
}

// GuestURL returns the URL guests use to enter, or "" when guest access is off.
func (r *Room) GuestURL(ctx context.Context) (string, error) {
	code, err := r.GuestInviteCode(ctx)
	if err != nil || code == "" {
		return "", err
	}
	return r.session.BaseURL() + "/" + code, nil
}

// Update changes room attributes. The local cache is left as it was; readers
// that trust it stay stale until the next reload.
func (r *Room) Update(ctx context.Context, changes Changes) error {
	body := struct {
		Room Changes `json:"room"`
	}{Room: changes}
	if err := r.session.Put(ctx, r.resourcePath(), body, nil); err != nil {
		return fmt.Errorf("update room %d: %w", r.id, err)
	}
	return nil
}

// Rename sets the room name.
func (r *Room) Rename(ctx context.Context, name string) error {
	return r.Update(ctx, Changes{Name: &name})
}

// SetTopic sets the room topic.
func (r *Room) SetTopic(ctx context.Context, topic string) error {
	return r.Update(ctx, Changes{Topic: &topic})
}

func (r *Room) rosterCopy() []User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]User, len(r.roster))
	copy(out, r.roster)
	return out
}
