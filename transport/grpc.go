package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/adamgarcia4/goLearning/chandylamport/snapshot"
)

const (
	peerServiceName = "chandylamport.peer.v1.PeerService"
	deliverMethod   = "/" + peerServiceName + "/Deliver"
)

// peerServiceServer is the server side of PeerService:
//
//	rpc Deliver(google.protobuf.Struct) returns (google.protobuf.Empty);
type peerServiceServer interface {
	Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error)
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*peerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "peer/v1/peer.proto",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(peerServiceServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(peerServiceServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// PeerServiceServer decodes inbound messages and hands them to a Handler.
// gRPC runs each call on its own goroutine, one per inbound message.
type PeerServiceServer struct {
	handler Handler
	peerID  snapshot.PeerID
	logFn   func(format string, args ...interface{})
}

// Deliver handles one message. Malformed payloads are rejected with
// InvalidArgument and never reach the handler.
func (s *PeerServiceServer) Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	msg, err := Decode(req)
	if err != nil {
		s.logFn("Dropping malformed message: %v", err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.handler.HandleMessage(ctx, msg); err != nil {
		if errors.Is(err, ErrMalformedMessage) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

type GRPC struct {
	addr   string
	srv    *grpc.Server
	lis    net.Listener
	peerID snapshot.PeerID

	stopOnce sync.Once
	serveErr chan error
}

func (g *GRPC) setupTcp() (net.Listener, error) {
	lis, err := net.Listen("tcp", g.addr)

	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	return lis, nil
}

// Start binds synchronously, so an address already in use is reported here,
// then serves in a background goroutine.
func (g *GRPC) Start() error {
	lis, err := g.setupTcp()
	if err != nil {
		return fmt.Errorf("failed to setup TCP: %w", err)
	}
	g.Serve(lis)
	return nil
}

// Serve serves on an already bound listener in a background goroutine.
func (g *GRPC) Serve(lis net.Listener) {
	g.lis = lis
	go func() {
		g.serveErr <- g.srv.Serve(lis)
	}()
}

// Addr returns the bound address, or the configured one before Start.
func (g *GRPC) Addr() string {
	if g.lis != nil {
		return g.lis.Addr().String()
	}
	return g.addr
}

// Stop waits for in-flight deliveries to finish and closes the listener.
func (g *GRPC) Stop() error {
	var err error
	g.stopOnce.Do(func() {
		g.srv.GracefulStop()
		if g.lis == nil {
			return
		}
		if serveErr := <-g.serveErr; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			err = serveErr
		}
	})
	return err
}

func NewGRPC(addr string, peerID snapshot.PeerID, handler Handler, logFn func(format string, args ...interface{})) (*GRPC, error) {
	if addr == "" || !strings.Contains(addr, ":") {
		return nil, fmt.Errorf("invalid address: %s", addr)
	}

	if peerID == "" {
		return nil, fmt.Errorf("peerID must be provided")
	}

	if handler == nil {
		return nil, fmt.Errorf("handler must be provided")
	}

	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}

	srv := grpc.NewServer()
	srv.RegisterService(&peerServiceDesc, &PeerServiceServer{
		handler: handler,
		peerID:  peerID,
		logFn:   logFn,
	})

	// Register reflection service for gRPC tools (grpcurl, grpcui, etc.)
	reflection.Register(srv)

	return &GRPC{
		addr:     addr,
		srv:      srv,
		peerID:   peerID,
		serveErr: make(chan error, 1),
	}, nil
}
