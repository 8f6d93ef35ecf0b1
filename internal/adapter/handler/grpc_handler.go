package handler

import (
	"context"
	"errors"

	"github.com/rl1809/stock-ledger/internal/adapter/handler/pb"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type GRPCHandler struct {
	pb.UnimplementedLedgerServer
	ledger *service.Ledger
}

func NewGRPCHandler(ledger *service.Ledger) *GRPCHandler {
	return &GRPCHandler{ledger: ledger}
}

func (h *GRPCHandler) Reserve(ctx context.Context, req *pb.ReserveRequest) (*pb.ReserveResponse, error) {
	res, err := h.ledger.ReserveStock(ctx, req.GetItemId(), int(req.GetQuantity()))
	if err != nil {
		return &pb.ReserveResponse{
			Success: false,
			Message: reserveMessage(err),
		}, nil
	}

	return &pb.ReserveResponse{
		Success:   true,
		Message:   "stock reserved",
		Remaining: int64(res.Remaining),
		Version:   res.Version,
	}, nil
}

func reserveMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "quantity must be positive"
	case errors.Is(err, domain.ErrNotFound):
		return "item not found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "sold out"
	case errors.Is(err, domain.ErrRetriesExhausted):
		return "too much contention, try again"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
