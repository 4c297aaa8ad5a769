package inference

import (
	"context"
	"errors"
	"fmt"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cloudsplit.inference.v1.Inference"

const (
	configureMethod    = "/" + ServiceName + "/Configure"
	runInferenceMethod = "/" + ServiceName + "/RunInference"
)

// MaxMessageSize bounds request and response size on both ends. A batch
// carries a whole partition, so this is well above gRPC's 4 MiB default.
const MaxMessageSize = 512 << 20

// Server is what RegisterServer exposes over gRPC.
type Server interface {
	Service
	Configurer
}

// Client implements Service and Configurer against a remote inference
// server.
type Client struct {
	conn     *grpc.ClientConn
	owned    bool
	callOpts []grpc.CallOption
}

var _ Server = (*Client)(nil)

// Dial connects to addr with insecure transport. Extra options are
// appended after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial inference service %s: %w", addr, err)
	}
	c := NewClient(conn)
	c.owned = true
	return c, nil
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{
		conn: conn,
		callOpts: []grpc.CallOption{
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallRecvMsgSize(MaxMessageSize),
			grpc.MaxCallSendMsgSize(MaxMessageSize),
		},
	}
}

// Configure implements Configurer.
func (c *Client) Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error) {
	resp := new(ConfigureResponse)
	if err := c.conn.Invoke(ctx, configureMethod, req, resp, c.callOpts...); err != nil {
		return nil, err
	}
	return resp, nil
}

// RunInference implements Service.
func (c *Client) RunInference(ctx context.Context, b *Batch) (*Output, error) {
	out := new(Output)
	if err := c.conn.Invoke(ctx, runInferenceMethod, b, out, c.callOpts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Close closes the connection if Dial opened it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	return c.conn.Close()
}

// NewGRPCServer returns a gRPC server with impl registered and message
// limits matching the client.
func NewGRPCServer(impl Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterServer(s, impl)
	return s
}

// RegisterServer registers impl on s.
func RegisterServer(s grpc.ServiceRegistrar, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Configure", Handler: configureHandler},
		{MethodName: "RunInference", Handler: runInferenceHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cloudsplit/inference/v1/inference.proto",
}

func configureHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ConfigureRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := srv.(Server).Configure(ctx, req.(*ConfigureRequest))
		return resp, toStatus("Configure", err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: configureMethod}, call)
}

func runInferenceHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Batch)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		out, err := srv.(Server).RunInference(ctx, req.(*Batch))
		return out, toStatus("RunInference", err)
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: runInferenceMethod}, call)
}

// toStatus passes status errors through and maps the package sentinels to
// InvalidArgument; anything else becomes Internal.
func toStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	log.Printf("[gRPC] %s failed: %v", method, err)
	if errors.Is(err, ErrUnknownModel) || errors.Is(err, ErrMissingCheckpoint) || errors.Is(err, ErrNotConfigured) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
