package room

import (
	"encoding/json"
	"time"
)

// Message types understood by the service.
const (
	TextMessage        = "TextMessage"
	PasteMessage       = "PasteMessage"
	SoundMessage       = "SoundMessage"
	TweetMessage       = "TweetMessage"
	EnterMessage       = "EnterMessage"
	LeaveMessage       = "LeaveMessage"
	KickMessage        = "KickMessage"
	TimestampMessage   = "TimestampMessage"
	TopicChangeMessage = "TopicChangeMessage"
	UploadMessage      = "UploadMessage"
)

// User is an account known to a room.
type User struct {
	ID           int64
	Name         string
	EmailAddress string
	Admin        bool
	CreatedAt    time.Time
	Type         string
	AvatarURL    string
}

// Message is a chat message with its author resolved and its timestamp parsed.
// User is nil for messages without an author, such as timestamps.
type Message struct {
	ID        int64
	Body      string
	Type      string
	RoomID    int64
	CreatedAt time.Time
	Starred   bool
	User      *User
}

// RawMessage is a message as it appears on the wire.
type RawMessage struct {
	ID        int64  `json:"id"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	RoomID    int64  `json:"room_id"`
	UserID    *int64 `json:"user_id"`
	CreatedAt string `json:"created_at"`
	Starred   bool   `json:"starred"`
}

type rawUser struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	EmailAddress string `json:"email_address"`
	Admin        bool   `json:"admin"`
	CreatedAt    string `json:"created_at"`
	Type         string `json:"type"`
	AvatarURL    string `json:"avatar_url"`
}

func (u rawUser) toUser() (User, error) {
	user := User{
		ID:           u.ID,
		Name:         u.Name,
		EmailAddress: u.EmailAddress,
		Admin:        u.Admin,
		Type:         u.Type,
		AvatarURL:    u.AvatarURL,
	}
	if u.CreatedAt == "" {
		return user, nil
	}
	createdAt, err := parseTimestamp(u.CreatedAt)
	if err != nil {
		return User{}, err
	}
	user.CreatedAt = createdAt
	return user, nil
}

// UnmarshalJSON decodes the wire form of a user, parsing created_at.
func (u *User) UnmarshalJSON(data []byte) error {
	var raw rawUser
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	user, err := raw.toUser()
	if err != nil {
		return err
	}
	*u = user
	return nil
}

type roomAttributes struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Topic            string    `json:"topic"`
	Full             bool      `json:"full"`
	OpenToGuests     bool      `json:"open_to_guests"`
	ActiveTokenValue string    `json:"active_token_value"`
	MembershipLimit  int       `json:"membership_limit"`
	Users            []rawUser `json:"users"`
}

// Changes is a partial update of room attributes. Nil fields are left alone.
type Changes struct {
	Name  *string `json:"name,omitempty"`
	Topic *string `json:"topic,omitempty"`
}

// Upload describes a file attached to a room.
type Upload struct {
	ID          int64
	Name        string
	ByteSize    int64
	ContentType string
	FullURL     string
	RoomID      int64
	UserID      int64
	CreatedAt   time.Time
}

// RecentOptions filters Recent. A zero Limit means 10.
type RecentOptions struct {
	Limit          int
	SinceMessageID int64
}
