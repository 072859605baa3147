package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

const (
	OrderServiceName = "shop.v1.OrderService"
	placeOrderMethod = "/" + OrderServiceName + "/PlaceOrder"

	// JSONContentSubtype selects the JSON codec on a call, as in
	// grpc.CallContentSubtype(JSONContentSubtype).
	JSONContentSubtype = "json"
)

// jsonCodec lets the order service run without generated protobuf types.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONContentSubtype }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type PlaceOrderMessage struct {
	PlaceOrderRequest
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type PlaceOrderReply struct {
	Order OrderResponse `json:"order"`
}

type OrderServer interface {
	PlaceOrder(ctx context.Context, req *PlaceOrderMessage) (*PlaceOrderReply, error)
}

func placeOrderHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PlaceOrderMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OrderServer).PlaceOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: placeOrderMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OrderServer).PlaceOrder(ctx, req.(*PlaceOrderMessage))
	}
	return interceptor(ctx, in, info, handler)
}

var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: OrderServiceName,
	HandlerType: (*OrderServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "PlaceOrder", Handler: placeOrderHandler},
	},
	Streams: []grpc.StreamDesc{},
}

type GRPCHandler struct {
	orders OrderService
}

func NewGRPCHandler(orders OrderService) *GRPCHandler {
	return &GRPCHandler{orders: orders}
}

func (h *GRPCHandler) PlaceOrder(ctx context.Context, req *PlaceOrderMessage) (*PlaceOrderReply, error) {
	order, err := h.orders.PlaceOrder(ctx, principalFromContext(ctx), req.toInput(req.IdempotencyKey))
	if err != nil {
		return nil, grpcStatus(err)
	}
	return &PlaceOrderReply{Order: newOrderResponse(order)}, nil
}

func grpcStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrDuplicateRequest):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, service.ErrOrderCreateFailed):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

type principalCtxKey struct{}

func principalFromContext(ctx context.Context) *domain.Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*domain.Principal)
	return p
}

// AuthInterceptor resolves the "authorization" metadata entry the same way
// OptionalAuth resolves the HTTP header.
func AuthInterceptor(verifier port.TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		if values := md.Get("authorization"); len(values) > 0 {
			if principal, err := verifier.VerifyToken(values[0]); err == nil {
				ctx = context.WithValue(ctx, principalCtxKey{}, principal)
			}
		}
		return handler(ctx, req)
	}
}

func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("latency", time.Since(start)),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("gRPC Request", append(fields, zap.Error(err))...)
		} else {
			logger.Info("gRPC Request", fields...)
		}
		return resp, err
	}
}

// NewGRPCServer registers the order service and the standard health service.
func NewGRPCServer(h *GRPCHandler, verifier port.TokenVerifier, logger *zap.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts, grpc.ChainUnaryInterceptor(LoggingInterceptor(logger), AuthInterceptor(verifier)))
	s := grpc.NewServer(opts...)
	s.RegisterService(&OrderServiceDesc, h)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(OrderServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return s, healthServer
}

// OrderClient calls the order service over a connection using the JSON codec.
type OrderClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderClient(cc grpc.ClientConnInterface) *OrderClient {
	return &OrderClient{cc: cc}
}

func (c *OrderClient) PlaceOrder(ctx context.Context, in *PlaceOrderMessage, opts ...grpc.CallOption) (*PlaceOrderReply, error) {
	out := new(PlaceOrderReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONContentSubtype)}, opts...)
	if err := c.cc.Invoke(ctx, placeOrderMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
