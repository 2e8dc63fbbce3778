package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Timotej979/Model-executor-runtime/internal/executor"
	"github.com/Timotej979/Model-executor-runtime/pkg/descriptor"
)

// Version is reported by Discover and the REPL.
var Version = "0.1.0"

// Server adapts the Executor to ModelExecutorServer.
type Server struct {
	exec *executor.Executor
	log  *zap.Logger
	// Optional discovery data
	Features []string
	Metadata map[string]string
}

func NewServer(exec *executor.Executor, log *zap.Logger, features []string, metadata map[string]string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{exec: exec, log: log.Named("grpc"), Features: features, Metadata: metadata}
}

var _ ModelExecutorServer = (*Server)(nil)

func (s *Server) ListModels(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	models, err := s.exec.List(ctx)
	if err != nil {
		return nil, s.fail("ListModels", err)
	}
	list := make([]any, 0, len(models))
	for _, m := range models {
		entry := map[string]any{
			"name":     m.Name,
			"uid":      m.UID,
			"connType": m.ConnType,
		}
		if !m.UpdatedAt.IsZero() {
			entry["lastUpdated"] = m.UpdatedAt.UTC().Format(time.RFC3339)
		}
		list = append(list, entry)
	}
	return toStruct(map[string]any{"models": list})
}

func (s *Server) ModelInfo(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	name := req.GetValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "model name is required")
	}
	d, err := s.exec.Info(ctx, name)
	if err != nil {
		return nil, s.fail("ModelInfo", err)
	}
	return toStruct(DescriptorMap(d))
}

func (s *Server) Ping(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	name := req.GetValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "model name is required")
	}
	res, err := s.exec.Ping(ctx, name)
	if err != nil {
		return nil, s.fail("Ping", err)
	}
	return toStruct(map[string]any{
		"name":       res.Name,
		"driver":     res.Driver,
		"ready":      true,
		"durationMs": float64(res.Duration.Milliseconds()),
	})
}

// Execute expects {"name": ..., "input": ..., "request_id": ...}; request_id
// is optional.
func (s *Server) Execute(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "field \"name\" is required")
	}
	if _, ok := fields["input"]; !ok {
		return nil, status.Error(codes.InvalidArgument, "field \"input\" is required")
	}
	res, err := s.exec.Execute(ctx, executor.Request{
		Name:      name,
		Input:     fields["input"].GetStringValue(),
		RequestID: fields["request_id"].GetStringValue(),
	})
	if err != nil {
		return nil, s.fail("Execute", err)
	}
	return toStruct(map[string]any{
		"name":        res.Name,
		"requestId":   res.RequestID,
		"driver":      res.Driver,
		"output":      res.Output,
		"diagnostics": res.Diagnostics,
		"cached":      res.Cached,
		"durationMs":  float64(res.Duration.Milliseconds()),
	})
}

// Discover returns static capabilities and live counters.
func (s *Server) Discover(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	features := make([]any, 0, len(s.Features))
	for _, f := range s.Features {
		features = append(features, f)
	}
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	m := s.exec.Metrics()
	return toStruct(map[string]any{
		"service":  ServiceName,
		"version":  Version,
		"drivers":  []any{descriptor.ConnLocal, descriptor.ConnRemote},
		"features": features,
		"metadata": meta,
		"metrics": map[string]any{
			"active":            float64(m.Active),
			"success":           float64(m.Success),
			"failure":           float64(m.Failure),
			"durationCount":     float64(m.DurationCount),
			"durationSumMicros": float64(m.DurationSumMicros),
		},
	})
}

func (s *Server) fail(method string, err error) error {
	st := toStatus(err)
	s.log.Warn("request failed", zap.String("method", method), zap.Stringer("code", st.Code()), zap.Error(err))
	return st.Err()
}

// DescriptorMap renders a descriptor for display. Callers redact first.
func DescriptorMap(d *descriptor.Descriptor) map[string]any {
	out := map[string]any{}
	for k, v := range d.Identity.Map() {
		out[k] = v
	}
	conn := map[string]any{}
	for k, v := range d.Connection {
		conn[k] = v
	}
	exec := map[string]any{}
	for k, v := range d.Execution {
		exec[k] = v
	}
	out["connection"] = conn
	out["execution"] = exec
	return out
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return st, nil
}
