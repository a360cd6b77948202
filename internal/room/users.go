package room

import (
	"context"
	"fmt"
	"strconv"
)

type userEnvelope struct {
	User *rawUser `json:"user"`
}

// User returns the user with id from the roster, fetching and caching it on a
// miss. Concurrent misses for the same id share one fetch. Errors are *UserFetchError.
func (r *Room) User(ctx context.Context, id int64) (*User, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, &UserFetchError{UserID: id, Err: err}
	}
	if user, ok := r.cachedUser(id); ok {
		return user, nil
	}

	result, err, _ := r.userFetches.Do(strconv.FormatInt(id, 10), func() (any, error) {
		if user, ok := r.cachedUser(id); ok {
			return user, nil
		}
		return r.fetchUser(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	user := *result.(*User)
	return &user, nil
}

func (r *Room) cachedUser(id int64) (*User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.roster {
		if r.roster[i].ID == id {
			user := r.roster[i]
			return &user, true
		}
	}
	return nil, false
}

func (r *Room) fetchUser(ctx context.Context, id int64) (*User, error) {
	var envelope userEnvelope
	if err := r.session.Get(ctx, fmt.Sprintf("/users/%d.json", id), &envelope); err != nil {
		return nil, &UserFetchError{UserID: id, Err: err}
	}
	if envelope.User == nil {
		return nil, &UserFetchError{UserID: id, Err: errUserMissing}
	}
	user, err := envelope.User.toUser()
	if err != nil {
		return nil, &UserFetchError{UserID: id, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.roster {
		if r.roster[i].ID == id {
			existing := r.roster[i]
			return &existing, nil
		}
	}
	r.roster = append(r.roster, user)
	r.log.Debug().Int64("user_id", id).Msg("user added to roster")
	return &user, nil
}
