package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// jsonCodec carries message-pattern payloads as JSON over gRPC, so services
// exchange plain structs without generated stubs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case json.RawMessage:
		return m, nil
	case *json.RawMessage:
		return *m, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if m, ok := v.(*json.RawMessage); ok {
		*m = append((*m)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

// Dial opens a plaintext client connection; calls are made lazily.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	return grpc.NewClient(target, opts...)
}

// GRPCClient invokes "/<service>/<pattern>" on a gRPC connection.
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	service string
}

func NewGRPCClient(conn grpc.ClientConnInterface, service string) *GRPCClient {
	return &GRPCClient{conn: conn, service: service}
}

func (c *GRPCClient) Send(ctx context.Context, pattern string, data any) (json.RawMessage, error) {
	var reply json.RawMessage
	err := c.conn.Invoke(ctx, "/"+c.service+"/"+pattern, data, &reply, grpc.ForceCodec(jsonCodec{}))
	if err != nil {
		return nil, fromStatus(err, pattern)
	}
	return reply, nil
}

func fromStatus(err error, pattern string) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return &Error{
		Message: st.Message(),
		Code:    st.Code().String(),
		Status:  httpStatus(st.Code()),
		Pattern: pattern,
		err:     err,
	}
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func grpcCode(httpStatus int) codes.Code {
	switch httpStatus {
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// HandlerFunc serves one message pattern. The returned value is sent back as JSON.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (any, error)

// Server routes "/<service>/<pattern>" calls to pattern handlers regardless
// of the service segment.
type Server struct {
	srv *grpc.Server
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewServer(log *slog.Logger, opts ...grpc.ServerOption) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:      log.With(slog.String("component", "rpc_server")),
		handlers: make(map[string]HandlerFunc),
	}
	opts = append(opts,
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnknownServiceHandler(s.dispatch),
	)
	s.srv = grpc.NewServer(opts...)
	return s
}

func (s *Server) Handle(pattern string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[pattern] = h
}

func (s *Server) Serve(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *Server) GracefulStop() { s.srv.GracefulStop() }

func (s *Server) dispatch(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	pattern := method[strings.LastIndex(method, "/")+1:]

	s.mu.RLock()
	h, ok := s.handlers[pattern]
	s.mu.RUnlock()
	if !ok {
		return status.Errorf(codes.Unimplemented, "no handler for pattern %q", pattern)
	}

	var req json.RawMessage
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	resp, err := h(stream.Context(), req)
	if err != nil {
		s.log.Warn("rpc_handler_failed", slog.String("pattern", pattern), slog.String("err", err.Error()))
		return toStatus(err)
	}
	return stream.SendMsg(resp)
}

func toStatus(err error) error {
	var re *Error
	if errors.As(err, &re) {
		return status.Error(grpcCode(re.Status), re.Message)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Internal, err.Error())
}
