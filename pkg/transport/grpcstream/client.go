package grpcstream

import (
	"context"
	"fmt"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/version"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// ClientConn is the client side of a CreateTask call.
type ClientConn struct {
	cc     *grpc.ClientConn // owned connection, nil when opened on a caller's conn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Dial connects to addr without transport security and opens a session.
// ctx bounds the lifetime of the whole session.
func Dial(ctx context.Context, addr string) (*ClientConn, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUserAgent(version.Full()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to task service at %s: %w", addr, err)
	}
	c, err := Open(ctx, cc)
	if err != nil {
		_ = cc.Close()
		return nil, err
	}
	c.cc = cc
	return c, nil
}

// Open starts a CreateTask call on an existing connection. The caller keeps
// ownership of cc.
func Open(ctx context.Context, cc grpc.ClientConnInterface) (*ClientConn, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := cc.NewStream(ctx, createTaskStreamDesc, CreateTaskMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gRPC CreateTask call failed: %w", err)
	}
	return &ClientConn{stream: stream, cancel: cancel}, nil
}

// Send writes one request.
func (c *ClientConn) Send(_ context.Context, req *protocol.Request) error {
	frame, err := toStruct(req)
	if err != nil {
		return err
	}
	return c.stream.SendMsg(frame)
}

// Recv returns the next response. It returns io.EOF once the server ends
// the session cleanly.
func (c *ClientConn) Recv(context.Context) (*protocol.Response, error) {
	frame := new(structpb.Struct)
	if err := c.stream.RecvMsg(frame); err != nil {
		return nil, err
	}
	return decodeResponse(frame)
}

// CloseSend half-closes the stream; the server sees the client hang up.
func (c *ClientConn) CloseSend() error {
	return c.stream.CloseSend()
}

// Close cancels the call and releases an owned connection.
func (c *ClientConn) Close() error {
	c.cancel()
	if c.cc != nil {
		return c.cc.Close()
	}
	return nil
}
