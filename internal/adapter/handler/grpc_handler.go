package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type GRPCHandler struct {
	stockService *service.StockService
	log          zerolog.Logger
}

var _ StockLedgerServer = (*GRPCHandler)(nil)

func NewGRPCHandler(stockService *service.StockService, log zerolog.Logger) *GRPCHandler {
	return &GRPCHandler{
		stockService: stockService,
		log:          log.With().Str("component", "grpc").Logger(),
	}
}

func (h *GRPCHandler) Reserve(ctx context.Context, req *ReserveRequest) (*ReserveResponse, error) {
	res, err := h.stockService.Reserve(ctx, req.ProductID, int(req.Quantity))
	if err != nil {
		return nil, h.toStatus("Reserve", err)
	}

	return &ReserveResponse{
		ReservationID: res.ReservationID,
		StockItemID:   res.StockItemID,
		ExpiresAt:     res.ExpiresAt,
		Available:     int32(res.Available),
	}, nil
}

func (h *GRPCHandler) Release(ctx context.Context, req *ReleaseRequest) (*ReleaseResponse, error) {
	var (
		events []domain.Event
		err    error
	)
	switch {
	case req.StockItemID != "":
		events, err = h.stockService.ReleaseReservation(ctx, req.StockItemID, req.ReservationID)
	case req.ProductID != "":
		events, err = h.stockService.ReleaseProductReservation(ctx, req.ProductID, req.ReservationID)
	default:
		return nil, status.Error(codes.InvalidArgument, "stock_item_id or product_id is required")
	}
	if err != nil {
		return nil, h.toStatus("Release", err)
	}

	return &ReleaseResponse{Released: len(events) > 0}, nil
}

func (h *GRPCHandler) Adjust(ctx context.Context, req *AdjustRequest) (*AdjustResponse, error) {
	res, err := h.stockService.AdjustStock(ctx, req.ProductID, int(req.Adjustment), req.Reason, req.Actor)
	if err != nil {
		return nil, h.toStatus("Adjust", err)
	}

	return &AdjustResponse{
		StockItemID:    res.StockItemID,
		QuantityOnHand: int32(res.QuantityOnHand),
		Available:      int32(res.Available),
	}, nil
}

func (h *GRPCHandler) GetAvailable(ctx context.Context, req *GetAvailableRequest) (*GetAvailableResponse, error) {
	qty, err := h.stockService.ReadAvailableQuantity(ctx, req.ProductID)
	if err != nil {
		return nil, h.toStatus("GetAvailable", err)
	}
	return &GetAvailableResponse{ProductID: req.ProductID, Available: int32(qty)}, nil
}

func (h *GRPCHandler) toStatus(method string, err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		h.log.Error().Err(err).Str("method", method).Msg("rpc failed")
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvariantViolation):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientStock):
		return codes.FailedPrecondition
	case errors.Is(err, domain.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return codes.Aborted
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}
