// Package wsstream carries task sessions over WebSocket.
//
// One WebSocket connection is one session. The codec is chosen once per
// connection from the negotiated subprotocol: taskstream.v1.json frames are
// text messages, taskstream.v1.cbor frames are binary messages.
package wsstream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
)

// ReadLimit is the largest frame accepted from a peer.
const ReadLimit = 1 << 20

// conn is the frame layer shared by the server and client streams.
type conn struct {
	ws           *websocket.Conn
	codec        protocol.Codec
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) conn {
	ws.SetReadLimit(ReadLimit)
	return conn{
		ws:           ws,
		codec:        protocol.CodecForSubprotocol(ws.Subprotocol()),
		writeTimeout: writeTimeout,
	}
}

// write encodes v and sends it with a write timeout.
func (c conn) write(ctx context.Context, v any) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", c.codec.Name(), err)
	}
	typ := websocket.MessageText
	if c.codec.Binary() {
		typ = websocket.MessageBinary
	}
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.ws.Write(ctx, typ, data)
}

// read returns the next message payload. A normal close from the peer is
// reported as io.EOF.
func (c conn) read(ctx context.Context) ([]byte, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			return nil, io.EOF
		}
		return nil, err
	}
	return data, nil
}

// Codec returns the codec negotiated for the connection.
func (c conn) Codec() protocol.Codec { return c.codec }

// Stream is the server side of a WebSocket session. It implements
// session.Stream.
type Stream struct {
	conn
}

var _ session.Stream = (*Stream)(nil)

// NewStream wraps an accepted connection.
func NewStream(ws *websocket.Conn, writeTimeout time.Duration) *Stream {
	return &Stream{conn: newConn(ws, writeTimeout)}
}

// Recv returns the next valid request. Frames that do not decode or carry
// the wrong number of actions are logged and skipped.
func (s *Stream) Recv(ctx context.Context) (*protocol.Request, error) {
	for {
		data, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		req, err := protocol.DecodeRequest(s.codec, data)
		if err != nil {
			slog.Warn("Invalid WebSocket frame", "codec", s.codec.Name(), "error", err)
			continue
		}
		return req, nil
	}
}

// Send writes one response.
func (s *Stream) Send(ctx context.Context, resp *protocol.Response) error {
	return s.write(ctx, resp)
}

// Close closes the connection with a normal closure.
func (s *Stream) Close() error {
	return s.ws.Close(websocket.StatusNormalClosure, "")
}
