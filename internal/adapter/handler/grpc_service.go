package handler

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const StockLedgerServiceName = "stockledger.v1.StockLedger"

type ReserveRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type ReserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	StockItemID   string    `json:"stock_item_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Available     int32     `json:"available"`
}

type ReleaseRequest struct {
	// One of StockItemID or ProductID names the owning item.
	StockItemID   string `json:"stock_item_id,omitempty"`
	ProductID     string `json:"product_id,omitempty"`
	ReservationID string `json:"reservation_id"`
}

type ReleaseResponse struct {
	Released bool `json:"released"`
}

type AdjustRequest struct {
	ProductID  string `json:"product_id"`
	Adjustment int32  `json:"adjustment"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

type AdjustResponse struct {
	StockItemID    string `json:"stock_item_id"`
	QuantityOnHand int32  `json:"quantity_on_hand"`
	Available      int32  `json:"available"`
}

type GetAvailableRequest struct {
	ProductID string `json:"product_id"`
}

type GetAvailableResponse struct {
	ProductID string `json:"product_id"`
	Available int32  `json:"available"`
}

type StockLedgerServer interface {
	Reserve(context.Context, *ReserveRequest) (*ReserveResponse, error)
	Release(context.Context, *ReleaseRequest) (*ReleaseResponse, error)
	Adjust(context.Context, *AdjustRequest) (*AdjustResponse, error)
	GetAvailable(context.Context, *GetAvailableRequest) (*GetAvailableResponse, error)
}

// JSONCodec carries the plain request structs above as gRPC payloads.
type JSONCodec struct{}

var _ encoding.Codec = JSONCodec{}

func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Name() string                       { return "json" }

// ServerCodec makes a grpc.Server speak JSONCodec on every call.
func ServerCodec() grpc.ServerOption {
	return grpc.ForceServerCodec(JSONCodec{})
}

var StockLedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: StockLedgerServiceName,
	HandlerType: (*StockLedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reserve", Handler: unaryHandler("Reserve", StockLedgerServer.Reserve)},
		{MethodName: "Release", Handler: unaryHandler("Release", StockLedgerServer.Release)},
		{MethodName: "Adjust", Handler: unaryHandler("Adjust", StockLedgerServer.Adjust)},
		{MethodName: "GetAvailable", Handler: unaryHandler("GetAvailable", StockLedgerServer.GetAvailable)},
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterStockLedgerServer(s grpc.ServiceRegistrar, srv StockLedgerServer) {
	s.RegisterService(&StockLedgerServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(StockLedgerServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	fullMethod := "/" + StockLedgerServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(StockLedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(StockLedgerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// StockLedgerClient calls a StockLedger server over cc.
type StockLedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewStockLedgerClient(cc grpc.ClientConnInterface) *StockLedgerClient {
	return &StockLedgerClient{cc: cc}
}

func (c *StockLedgerClient) Reserve(ctx context.Context, in *ReserveRequest, opts ...grpc.CallOption) (*ReserveResponse, error) {
	out := new(ReserveResponse)
	return out, c.invoke(ctx, "Reserve", in, out, opts)
}

func (c *StockLedgerClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*ReleaseResponse, error) {
	out := new(ReleaseResponse)
	return out, c.invoke(ctx, "Release", in, out, opts)
}

func (c *StockLedgerClient) Adjust(ctx context.Context, in *AdjustRequest, opts ...grpc.CallOption) (*AdjustResponse, error) {
	out := new(AdjustResponse)
	return out, c.invoke(ctx, "Adjust", in, out, opts)
}

func (c *StockLedgerClient) GetAvailable(ctx context.Context, in *GetAvailableRequest, opts ...grpc.CallOption) (*GetAvailableResponse, error) {
	out := new(GetAvailableResponse)
	return out, c.invoke(ctx, "GetAvailable", in, out, opts)
}

func (c *StockLedgerClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(JSONCodec{})}, opts...)
	return c.cc.Invoke(ctx, "/"+StockLedgerServiceName+"/"+method, in, out, opts...)
}
