package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/websocket"
)

// wsConn adapts an x/net websocket to Conn. JSON frames travel as text,
// msgpack frames as binary.
type wsConn struct {
	ws    *websocket.Conn
	codec Codec
}

// NewWebSocketConn wraps an established websocket.
func NewWebSocketConn(ws *websocket.Conn, codec Codec) Conn {
	return &wsConn{ws: ws, codec: codec}
}

// Dial opens a websocket to url and wraps it. header carries extra
// handshake headers such as Authorization.
func Dial(ctx context.Context, url, origin string, header http.Header, codec Codec) (Conn, error) {
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	for k, v := range header {
		cfg.Header[k] = v
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewWebSocketConn(ws, codec), nil
}

func (c *wsConn) Send(ctx context.Context, m Message) error {
	data, err := c.codec.Encode(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.MessageType(), err)
	}
	if d, ok := ctx.Deadline(); ok {
		c.ws.SetWriteDeadline(d)
		defer c.ws.SetWriteDeadline(time.Time{})
	}
	if c.codec.Binary() {
		err = websocket.Message.Send(c.ws, data)
	} else {
		err = websocket.Message.Send(c.ws, string(data))
	}
	return c.connErr(ctx, err)
}

func (c *wsConn) Receive(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d, ok := ctx.Deadline(); ok {
		c.ws.SetReadDeadline(d)
		defer c.ws.SetReadDeadline(time.Time{})
	}
	// Unblock the read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { c.ws.SetReadDeadline(time.Unix(1, 0)) })
	defer stop()

	var data []byte
	if err := websocket.Message.Receive(c.ws, &data); err != nil {
		return nil, c.connErr(ctx, err)
	}
	return c.codec.Decode(data)
}

func (c *wsConn) connErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return ErrClosed
	}
	return err
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
