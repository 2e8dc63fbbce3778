// Package service exposes the executor over gRPC. The service is described
// in code with well-known message types, so no generated stubs are needed.
package service

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName = "mer.driver.v1.ModelExecutor"
	protoFile   = "mer/driver/v1/model_executor.proto"
)

// ModelExecutorServer is the server API for the ModelExecutor service.
type ModelExecutorServer interface {
	ListModels(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ModelInfo(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Ping(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Discover(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func unary[T proto.Message](method string, newReq func() T, call func(ModelExecutorServer, context.Context, T) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(ModelExecutorServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(T))
		})
	}
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newString() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// ModelExecutor_ServiceDesc is the grpc.ServiceDesc for the ModelExecutor service.
var ModelExecutor_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ModelExecutorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListModels", Handler: unary("ListModels", newEmpty, ModelExecutorServer.ListModels)},
		{MethodName: "ModelInfo", Handler: unary("ModelInfo", newString, ModelExecutorServer.ModelInfo)},
		{MethodName: "Ping", Handler: unary("Ping", newString, ModelExecutorServer.Ping)},
		{MethodName: "Execute", Handler: unary("Execute", newStruct, ModelExecutorServer.Execute)},
		{MethodName: "Discover", Handler: unary("Discover", newEmpty, ModelExecutorServer.Discover)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: protoFile,
}

// RegisterModelExecutorServer registers srv and makes the service visible to
// server reflection.
func RegisterModelExecutorServer(s grpc.ServiceRegistrar, srv ModelExecutorServer) {
	s.RegisterService(&ModelExecutor_ServiceDesc, srv)
}

// File_model_executor describes the service for reflection clients such as
// grpcurl.
var File_model_executor = buildFileDescriptor()

func buildFileDescriptor() protoreflect.FileDescriptor {
	if fd, err := protoregistry.GlobalFiles.FindFileByPath(protoFile); err == nil {
		return fd
	}
	method := func(name, in, out string) *descriptorpb.MethodDescriptorProto {
		return &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(in),
			OutputType: proto.String(out),
		}
	}
	const (
		empty  = ".google.protobuf.Empty"
		str    = ".google.protobuf.StringValue"
		strukt = ".google.protobuf.Struct"
	)
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(protoFile),
		Package: proto.String("mer.driver.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			emptypb.File_google_protobuf_empty_proto.Path(),
			structpb.File_google_protobuf_struct_proto.Path(),
			wrapperspb.File_google_protobuf_wrappers_proto.Path(),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("ModelExecutor"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("ListModels", empty, strukt),
				method("ModelInfo", str, strukt),
				method("Ping", str, strukt),
				method("Execute", strukt, strukt),
				method("Discover", empty, strukt),
			},
		}},
	}
	fd, err := protodesc.NewFile(fdp, protoregistry.GlobalFiles)
	if err != nil {
		panic("service: build file descriptor: " + err.Error())
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic("service: register file descriptor: " + err.Error())
	}
	return fd
}
