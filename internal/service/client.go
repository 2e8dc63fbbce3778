package service

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a ModelExecutor service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// DialUnix connects to a server listening on a unix socket.
func DialUnix(socket string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient("unix://"+socket, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socket, err)
	}
	return cc, nil
}

func (c *Client) invoke(ctx context.Context, method string, in any) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListModels(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListModels", &emptypb.Empty{})
}

func (c *Client) ModelInfo(ctx context.Context, name string) (*structpb.Struct, error) {
	return c.invoke(ctx, "ModelInfo", wrapperspb.String(name))
}

func (c *Client) Ping(ctx context.Context, name string) (*structpb.Struct, error) {
	return c.invoke(ctx, "Ping", wrapperspb.String(name))
}

// Execute runs input through the named model. requestID may be empty.
func (c *Client) Execute(ctx context.Context, name, input, requestID string) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		"name":       name,
		"input":      input,
		"request_id": requestID,
	})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Execute", req)
}

func (c *Client) Discover(ctx context.Context) (*structpb.Struct, error) {
	return c.invoke(ctx, "Discover", &emptypb.Empty{})
}
