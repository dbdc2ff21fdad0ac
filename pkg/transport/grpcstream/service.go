// Package grpcstream carries task sessions over a gRPC bidirectional stream.
//
// The service has one method, taskstream.v1.TaskService/CreateTask. Each
// call is one session. Frames are google.protobuf.Struct messages holding
// the JSON form of protocol.Request and protocol.Response, so no generated
// code is needed on either side.
package grpcstream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codeready-toolchain/taskstream/pkg/protocol"
	"github.com/codeready-toolchain/taskstream/pkg/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "taskstream.v1.TaskService"
	// CreateTaskMethod is the full method path of the session stream.
	CreateTaskMethod = "/" + ServiceName + "/CreateTask"
)

// TaskServiceServer is the server API for TaskService.
type TaskServiceServer interface {
	CreateTask(stream grpc.ServerStream) error
}

// ServiceDesc describes TaskService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TaskServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "CreateTask",
			Handler:       createTaskHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "taskstream/v1/task.proto",
}

var createTaskStreamDesc = &ServiceDesc.Streams[0]

func createTaskHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TaskServiceServer).CreateTask(stream)
}

// SessionServer runs one session per stream. *session.Manager implements it.
type SessionServer interface {
	Serve(ctx context.Context, stream session.Stream) error
}

// Service implements TaskServiceServer on top of a SessionServer.
type Service struct {
	sessions SessionServer
}

var _ TaskServiceServer = (*Service)(nil)

// NewService creates the gRPC task service.
func NewService(sessions SessionServer) *Service {
	return &Service{sessions: sessions}
}

// Register adds TaskService to server.
func Register(server *grpc.Server, sessions SessionServer) {
	server.RegisterService(&ServiceDesc, NewService(sessions))
}

// CreateTask serves one session for the lifetime of the call.
func (s *Service) CreateTask(stream grpc.ServerStream) error {
	if err := s.sessions.Serve(stream.Context(), &serverStream{stream: stream}); err != nil {
		return status.Errorf(codes.Internal, "session failed: %v", err)
	}
	return nil
}

// serverStream adapts a grpc.ServerStream to session.Stream.
type serverStream struct {
	stream grpc.ServerStream
}

// Recv returns the next valid request. It returns io.EOF once the client
// calls CloseSend. Invalid frames are logged and skipped.
func (s *serverStream) Recv(context.Context) (*protocol.Request, error) {
	for {
		frame := new(structpb.Struct)
		if err := s.stream.RecvMsg(frame); err != nil {
			return nil, err
		}
		req, err := decodeRequest(frame)
		if err != nil {
			slog.Warn("Invalid gRPC frame", "error", err)
			continue
		}
		return req, nil
	}
}

// Send writes one response.
func (s *serverStream) Send(_ context.Context, resp *protocol.Response) error {
	frame, err := toStruct(resp)
	if err != nil {
		return err
	}
	return s.stream.SendMsg(frame)
}

// toStruct converts an envelope to its Struct frame via its JSON form.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := protocol.JSON.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	frame := new(structpb.Struct)
	if err := protojson.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return frame, nil
}

func decodeRequest(frame *structpb.Struct) (*protocol.Request, error) {
	data, err := protojson.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return protocol.DecodeRequest(protocol.JSON, data)
}

func decodeResponse(frame *structpb.Struct) (*protocol.Response, error) {
	data, err := protojson.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}
	return protocol.DecodeResponse(protocol.JSON, data)
}
