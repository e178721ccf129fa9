package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds a single stream message. A 2048 spoke sweep of
// 1024 samples in one frame still fits.
const maxFrameSize = 8 << 20

// ErrClosedCleanly is wrapped by FrameConn.ReadFrame when the source ended
// the stream with a normal close handshake. No reconnect follows.
var ErrClosedCleanly = errors.New("stream closed cleanly")

// FrameConn is an open binary stream.
type FrameConn interface {
	// ReadFrame blocks until the next binary message arrives.
	ReadFrame() ([]byte, error)
	Close() error
}

// Dialer opens a FrameConn. The context bounds the opening handshake only.
type Dialer interface {
	DialContext(ctx context.Context, url string) (FrameConn, error)
}

// WebSocketDialer dials sources over gorilla/websocket.
type WebSocketDialer struct {
	Dialer *websocket.Dialer // nil uses websocket.DefaultDialer
	Header http.Header
}

func (d WebSocketDialer) DialContext(ctx context.Context, url string) (FrameConn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, fmt.Errorf("%w: %v", ErrClosedCleanly, err)
			}
			return nil, err
		}
		// text messages carry nothing the pipeline understands
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.conn.Close()
}
