package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lockwatch.v1.Registry"

// RegistryServer is the server API for the registration service.
type RegistryServer interface {
	AddContainer(context.Context, *AddContainerRequest) (*StatusResponse, error)
	AddProcess(context.Context, *AddProcessRequest) (*StatusResponse, error)
	DeleteContainer(context.Context, *DeleteContainerRequest) (*StatusResponse, error)
	NewProcess(context.Context, *NewProcessRequest) (*StatusResponse, error)
	ExitProcess(context.Context, *ExitProcessRequest) (*Empty, error)
	Check(context.Context, *CheckRequest) (*CheckResponse, error)
	ListContainers(context.Context, *ListRequest) (*ListContainersResponse, error)
	ListProcesses(context.Context, *ListRequest) (*ListProcessesResponse, error)
}

// ServiceDesc describes the registration service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddContainer", RegistryServer.AddContainer),
		unary("AddProcess", RegistryServer.AddProcess),
		unary("DeleteContainer", RegistryServer.DeleteContainer),
		unary("NewProcess", RegistryServer.NewProcess),
		unary("ExitProcess", RegistryServer.ExitProcess),
		unary("Check", RegistryServer.Check),
		unary("ListContainers", RegistryServer.ListContainers),
		unary("ListProcesses", RegistryServer.ListProcesses),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lockwatch/v1/registry",
}

// RegisterRegistryServer registers srv on s.
func RegisterRegistryServer(s grpc.ServiceRegistrar, srv RegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(RegistryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RegistryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RegistryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegistryClient is the client API for the registration service.
type RegistryClient struct {
	cc grpc.ClientConnInterface
}

// NewRegistryClient wraps a connection. The connection must use Codec,
// for example via grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})).
func NewRegistryClient(cc grpc.ClientConnInterface) *RegistryClient {
	return &RegistryClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	if err := cc.Invoke(ctx, fullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RegistryClient) AddContainer(ctx context.Context, in *AddContainerRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "AddContainer", in, opts...)
}

func (c *RegistryClient) AddProcess(ctx context.Context, in *AddProcessRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "AddProcess", in, opts...)
}

func (c *RegistryClient) DeleteContainer(ctx context.Context, in *DeleteContainerRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "DeleteContainer", in, opts...)
}

func (c *RegistryClient) NewProcess(ctx context.Context, in *NewProcessRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "NewProcess", in, opts...)
}

func (c *RegistryClient) ExitProcess(ctx context.Context, in *ExitProcessRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "ExitProcess", in, opts...)
}

func (c *RegistryClient) Check(ctx context.Context, in *CheckRequest, opts ...grpc.CallOption) (*CheckResponse, error) {
	return invoke[CheckResponse](ctx, c.cc, "Check", in, opts...)
}

func (c *RegistryClient) ListContainers(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListContainersResponse, error) {
	return invoke[ListContainersResponse](ctx, c.cc, "ListContainers", in, opts...)
}

func (c *RegistryClient) ListProcesses(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListProcessesResponse, error) {
	return invoke[ListProcessesResponse](ctx, c.cc, "ListProcesses", in, opts...)
}
