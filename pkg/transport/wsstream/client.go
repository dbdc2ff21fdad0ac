package wsstream

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/version"
)

// ClientConn is the client side of a WebSocket session.
type ClientConn struct {
	conn
}

// Dial connects to a task stream endpoint and asks for codec. The server may
// answer with a different subprotocol; the connection then uses whichever
// codec was negotiated.
func Dial(ctx context.Context, url string, codec protocol.Codec) (*ClientConn, error) {
	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{protocol.SubprotocolFor(codec)},
		HTTPHeader:   http.Header{"User-Agent": []string{version.Full()}},
	})
	if err != nil {
		return nil, fmt.Errorf("WebSocket dial: %w", err)
	}
	return &ClientConn{conn: newConn(ws, 0)}, nil
}

// Send writes one request.
func (c *ClientConn) Send(ctx context.Context, req *protocol.Request) error {
	return c.write(ctx, req)
}

// Recv returns the next response. It returns io.EOF once the server closes
// the connection normally.
func (c *ClientConn) Recv(ctx context.Context) (*protocol.Response, error) {
	data, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeResponse(c.codec, data)
}

// Close ends the session from the client side with a normal closure.
func (c *ClientConn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
