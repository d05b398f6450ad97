package storagepb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name
	ServiceName = "bucketscan.v1.Storage"

	ReadRangeMethod = "/" + ServiceName + "/ReadRange"
	PutMethod       = "/" + ServiceName + "/Put"
	DeleteMethod    = "/" + ServiceName + "/Delete"
)

// StorageServer is implemented by the server side of the storage service.
type StorageServer interface {
	ReadRange(ctx context.Context, req *ReadRangeRequest) (*ReadRangeResponse, error)
	Put(ctx context.Context, req *MutationRequest) error
	Delete(ctx context.Context, req *MutationRequest) error
}

// StorageClient calls the storage service.
type StorageClient struct {
	cc grpc.ClientConnInterface
}

// NewStorageClient creates a client on top of cc.
func NewStorageClient(cc grpc.ClientConnInterface) *StorageClient {
	return &StorageClient{cc: cc}
}

// ReadRange performs one range read.
func (c *StorageClient) ReadRange(ctx context.Context, req *ReadRangeRequest, opts ...grpc.CallOption) (*ReadRangeResponse, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ReadRangeMethod, wrapperspb.Bytes(req.Marshal()), out, opts...); err != nil {
		return nil, err
	}
	resp := new(ReadRangeResponse)
	if err := resp.Unmarshal(out.GetValue()); err != nil {
		return nil, err
	}
	return resp, nil
}

// Put writes one column.
func (c *StorageClient) Put(ctx context.Context, req *MutationRequest, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, PutMethod, wrapperspb.Bytes(req.Marshal()), new(wrapperspb.BytesValue), opts...)
}

// Delete removes one column.
func (c *StorageClient) Delete(ctx context.Context, req *MutationRequest, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, DeleteMethod, wrapperspb.Bytes(req.Marshal()), new(wrapperspb.BytesValue), opts...)
}

// RegisterStorageServer registers srv with s.
func RegisterStorageServer(s grpc.ServiceRegistrar, srv StorageServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the storage service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StorageServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReadRange", Handler: readRangeHandler},
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Delete", Handler: deleteHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bucketscan/v1/storage",
}

type unaryFunc func(ctx context.Context, srv StorageServer, payload []byte) (*wrapperspb.BytesValue, error)

func unary(method string, call unaryFunc) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, srv.(StorageServer), req.(*wrapperspb.BytesValue).GetValue())
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		return interceptor(ctx, in, info, handler)
	}
}

var (
	readRangeHandler = unary(ReadRangeMethod, func(ctx context.Context, srv StorageServer, payload []byte) (*wrapperspb.BytesValue, error) {
		req := new(ReadRangeRequest)
		if err := req.Unmarshal(payload); err != nil {
			return nil, invalid(err)
		}
		resp, err := srv.ReadRange(ctx, req)
		if err != nil {
			return nil, err
		}
		return wrapperspb.Bytes(resp.Marshal()), nil
	})

	putHandler = unary(PutMethod, func(ctx context.Context, srv StorageServer, payload []byte) (*wrapperspb.BytesValue, error) {
		req := new(MutationRequest)
		if err := req.Unmarshal(payload); err != nil {
			return nil, invalid(err)
		}
		if err := srv.Put(ctx, req); err != nil {
			return nil, err
		}
		return &wrapperspb.BytesValue{}, nil
	})

	deleteHandler = unary(DeleteMethod, func(ctx context.Context, srv StorageServer, payload []byte) (*wrapperspb.BytesValue, error) {
		req := new(MutationRequest)
		if err := req.Unmarshal(payload); err != nil {
			return nil, invalid(err)
		}
		if err := srv.Delete(ctx, req); err != nil {
			return nil, err
		}
		return &wrapperspb.BytesValue{}, nil
	})
)

func invalid(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}
