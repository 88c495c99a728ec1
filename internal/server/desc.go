package server

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lending.v1.LendingService"

func unary[Req any, Resp any](name string, call func(LendingServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LendingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LendingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes lending.v1.LendingService. Messages are the
// ledger's JSON types carried by the json codec.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LendingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("InitializeBank", LendingServer.InitializeBank),
		unary("InitializeUser", LendingServer.InitializeUser),
		unary("Deposit", LendingServer.Deposit),
		unary("Withdraw", LendingServer.Withdraw),
		unary("Borrow", LendingServer.Borrow),
		unary("Repay", LendingServer.Repay),
		unary("Liquidate", LendingServer.Liquidate),
		unary("GetBank", LendingServer.GetBank),
		unary("GetPosition", LendingServer.GetPosition),
		unary("GetActionHistory", LendingServer.GetActionHistory),
		unary("GetWallet", LendingServer.GetWallet),
		unary("VerifyIntegrity", LendingServer.VerifyIntegrity),
		unary("SetPrice", LendingServer.SetPrice),
		unary("Fund", LendingServer.Fund),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lending/v1/lending.proto",
}

func RegisterLendingServer(s grpc.ServiceRegistrar, srv LendingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls lending.v1.LendingService with the json codec.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Invoke calls method with req and decodes into resp.
func (c *Client) Invoke(ctx context.Context, method string, req, resp any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, resp, opts...)
}
