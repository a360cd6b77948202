package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/campfire-client/internal/log"
)

// WebSocketDialer receives one payload per WebSocket text frame.
// Blank text frames are keep-alives and are dropped.
type WebSocketDialer struct {
	// HTTPClient is used for the opening handshake. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	Retry      Retry
	Logger     *zerolog.Logger
}

// Dial performs the handshake and starts the read loop.
func (d *WebSocketDialer) Dial(ctx context.Context, target Target) (Handle, error) {
	scheme := "ws"
	if target.TLS {
		scheme = "wss"
	}
	url := scheme + "://" + target.Host + target.Path
	logger := log.OrNop(d.Logger)

	connect := func(ctx context.Context) (frameReader, error) {
		return d.connect(ctx, url, target)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	first, err := connect(streamCtx)
	if err != nil {
		cancel()
		return nil, err
	}
	logger.Debug().Str("url", url).Msg("websocket stream connected")
	return startHandle(streamCtx, cancel, first, connect, d.Retry, url, logger), nil
}

func (d *WebSocketDialer) connect(ctx context.Context, url string, target Target) (frameReader, error) {
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	if target.Username != "" {
		request := &http.Request{Header: header}
		request.SetBasicAuth(target.Username, target.Password)
	}

	conn, response, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		if response != nil && response.StatusCode >= 400 && response.StatusCode < 500 {
			var body []byte
			if response.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(response.Body, 4096))
			}
			return nil, &StatusError{StatusCode: response.StatusCode, Body: bytes.TrimSpace(body)}
		}
		return nil, fmt.Errorf("stream: websocket dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameBytes)
	return &wsFrames{conn: conn, idle: target.idleTimeout()}, nil
}

type wsFrames struct {
	conn *websocket.Conn
	idle time.Duration
}

// ReadFrame returns the next non-blank text frame. Any frame restarts the idle clock.
func (f *wsFrames) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, f.idle)
		typ, data, err := f.conn.Read(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		cancel()
		if err != nil {
			if idle {
				return nil, fmt.Errorf("%w: nothing received for %s", ErrIdle, f.idle)
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		frame := bytes.TrimSpace(data)
		if len(frame) == 0 {
			continue
		}
		return frame, nil
	}
}

func (f *wsFrames) Close() error {
	return f.conn.Close(websocket.StatusNormalClosure, "bye")
}

var _ Dialer = (*WebSocketDialer)(nil)
