// Package grpcapi implements the cohort expression service over gRPC.
// Requests and responses are google.protobuf.Struct messages carrying the
// same fields as the REST API, so any gRPC client can call the service
// without generated stubs.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/lemonberrylabs/cohort-reporting/pkg/api"
	"github.com/lemonberrylabs/cohort-reporting/pkg/bind"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/suggest"
	"github.com/lemonberrylabs/cohort-reporting/pkg/timespan"
	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

// Full method names of the expression service.
const (
	ServiceName    = "cohort.v1.ExpressionService"
	ParseMethod    = "/" + ServiceName + "/Parse"
	HumanizeMethod = "/" + ServiceName + "/Humanize"
)

// ExpressionServer is the server API for the expression service.
type ExpressionServer interface {
	Parse(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Humanize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ExpressionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Parse", Handler: parseHandler},
		{MethodName: "Humanize", Handler: humanizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cohort/v1/expression.proto",
}

// RegisterExpressionServer registers srv on s.
func RegisterExpressionServer(s grpc.ServiceRegistrar, srv ExpressionServer) {
	s.RegisterService(&serviceDesc, srv)
}

func parseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExpressionServer).Parse(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ParseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExpressionServer).Parse(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func humanizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExpressionServer).Humanize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HumanizeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExpressionServer).Humanize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server implements ExpressionServer.
type Server struct {
	registry store.Registry
	parser   *expr.Parser
	logger   *slog.Logger
	clock    timespan.Clock
	locale   string
	grpc     *grpc.Server
}

var _ ExpressionServer = (*Server)(nil)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for per-call logging.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithParser replaces the default parser built around the registry.
func WithParser(p *expr.Parser) Option {
	return func(s *Server) { s.parser = p }
}

// WithClock sets the clock used when a Humanize request omits its reference.
func WithClock(c timespan.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithLocale sets the locale used when a Humanize request names none.
func WithLocale(locale string) Option {
	return func(s *Server) { s.locale = locale }
}

// New creates a new gRPC server backed by registry.
func New(registry store.Registry, opts ...Option) *Server {
	srv := &Server{
		registry: registry,
		logger:   slog.New(slog.DiscardHandler),
		clock:    time.Now,
		locale:   "en",
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.parser == nil {
		srv.parser = expr.New(registry, expr.WithLogger(srv.logger))
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(srv.logCalls))
	RegisterExpressionServer(gs, srv)
	srv.grpc = gs

	return srv
}

// Serve starts listening on the given address and serves gRPC requests.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.grpc.Serve(lis)
}

// GracefulStop gracefully stops the gRPC server.
func (s *Server) GracefulStop() {
	s.grpc.GracefulStop()
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	level := slog.LevelDebug
	if code := status.Code(err); code == codes.Internal || code == codes.Unavailable {
		level = slog.LevelError
	}
	s.logger.Log(ctx, level, "grpc call",
		slog.String("method", info.FullMethod),
		slog.String("code", status.Code(err).String()),
		slog.Duration("elapsed", time.Since(start)))
	return resp, err
}

// --- Expression Service ---

// Parse parses the "expression" field. When the request carries a
// "context" struct, the response also carries evaluated "bindings".
func (s *Server) Parse(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	expression := req.GetFields()["expression"].GetStringValue()

	seq, err := s.parser.Parse(ctx, expression)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	if seq == nil {
		seq = expr.TokenSequence{}
	}

	out := map[string]any{
		"expression": expression,
		"normalized": seq.String(),
		"tokens":     seq,
	}
	if c, ok := req.GetFields()["context"]; ok {
		if c.GetStructValue() == nil {
			return nil, status.Error(codes.InvalidArgument, "context must be a struct")
		}
		bindings, err := bind.Resolve(seq, bind.Context(c.GetStructValue().AsMap()))
		if err != nil {
			return nil, s.toStatus(ctx, err)
		}
		out["bindings"] = bindings
	}
	return toStruct(out)
}

// Humanize describes the "other" instant relative to "reference" (default
// now), rendered in "locale".
func (s *Server) Humanize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()

	other, err := instant(fields, "other")
	if err != nil {
		return nil, err
	}
	reference := s.clock()
	if _, ok := fields["reference"]; ok {
		if reference, err = instant(fields, "reference"); err != nil {
			return nil, err
		}
	}

	locale := s.locale
	if l := fields["locale"].GetStringValue(); l != "" {
		locale = l
	}
	loc := timespan.ParseLocale(locale)
	phrase := timespan.Humanize(reference, other)

	keys := make([]any, 0, 2)
	for _, k := range timespan.Keys(phrase) {
		keys = append(keys, k)
	}
	return structpb.NewStruct(map[string]any{
		"reference": reference.Format(time.RFC3339),
		"other":     other.Format(time.RFC3339),
		"phrase":    phrase,
		"keys":      keys,
		"text":      loc.Render(phrase),
		"locale":    loc.Language().String(),
	})
}

// instant reads a timestamp field. Values must fall in the range a
// google.protobuf.Timestamp can represent.
func instant(fields map[string]*structpb.Value, name string) (time.Time, error) {
	t, err := api.ParseInstant(fields[name].GetStringValue())
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	if err := timestamppb.New(t).CheckValid(); err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s: %v", name, err)
	}
	return t, nil
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// codeOf maps an error to its gRPC code using the same classification as
// the REST API.
func codeOf(err error) codes.Code {
	switch api.StatusOf(err) {
	case api.StatusInvalidArgument:
		return codes.InvalidArgument
	case api.StatusNotFound:
		return codes.NotFound
	case api.StatusAlreadyExists:
		return codes.AlreadyExists
	case api.StatusUnavailable:
		return codes.Unavailable
	}
	return codes.Internal
}

// toStatus converts err to a gRPC status. Expression errors carry an
// ErrorInfo detail whose reason is the error kind.
func (s *Server) toStatus(ctx context.Context, err error) error {
	st := status.New(codeOf(err), err.Error())

	var ee *types.ExpressionError
	if !errors.As(err, &ee) {
		return st.Err()
	}

	info := &errdetails.ErrorInfo{
		Reason:   ee.Kind.String(),
		Domain:   ServiceName,
		Metadata: map[string]string{"position": fmt.Sprint(ee.Pos)},
	}
	if ee.Definition != "" {
		info.Metadata["definition"] = ee.Definition
	}
	if ee.Parameter != "" {
		info.Metadata["parameter"] = ee.Parameter
	}
	if ee.Kind == types.KindUnresolvedReference {
		info.Metadata["suggestions"] = strings.Join(s.suggestions(ctx, ee.Definition), ",")
	}

	detailed, derr := st.WithDetails(info)
	if derr != nil {
		return st.Err()
	}
	return detailed.Err()
}

func (s *Server) suggestions(ctx context.Context, name string) []string {
	names, err := store.Names(ctx, s.registry)
	if err != nil {
		s.logger.Warn("could not list definitions for suggestions", slog.String("error", err.Error()))
		return nil
	}
	return suggest.Names(name, names, suggest.DefaultLimit)
}
