package room

import (
	"context"
	"errors"
	"fmt"
)

type outgoingMessage struct {
	Body string `json:"body"`
	Type string `json:"type"`
}

type messageEnvelope struct {
	Message *RawMessage `json:"message"`
}

// Speak posts a text message and returns it as stored by the service.
func (r *Room) Speak(ctx context.Context, body string) (*Message, error) {
	return r.send(ctx, body, TextMessage)
}

// Paste posts a preformatted block.
func (r *Room) Paste(ctx context.Context, body string) (*Message, error) {
	return r.send(ctx, body, PasteMessage)
}

// Play posts a sound, such as "rimshot" or "trombone".
func (r *Room) Play(ctx context.Context, sound string) (*Message, error) {
	return r.send(ctx, sound, SoundMessage)
}

// Tweet posts a tweet URL for inline display.
func (r *Room) Tweet(ctx context.Context, url string) (*Message, error) {
	return r.send(ctx, url, TweetMessage)
}

func (r *Room) send(ctx context.Context, body, messageType string) (*Message, error) {
	request := struct {
		Message outgoingMessage `json:"message"`
	}{Message: outgoingMessage{Body: body, Type: messageType}}

	var response messageEnvelope
	if err := r.post(ctx, "speak", "json", request, &response); err != nil {
		return nil, err
	}
	if response.Message == nil {
		return nil, fmt.Errorf("room %d speak: %w", r.id, errors.New("response has no message"))
	}
	return r.normalizer.Normalize(ctx, *response.Message)
}
