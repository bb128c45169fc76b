package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type HTTPHandler struct {
	stockService *service.StockService
	log          zerolog.Logger
}

type ReserveHTTPRequest struct {
	Quantity int `json:"quantity"`
}

type ReserveHTTPResponse struct {
	ReservationID string    `json:"reservation_id"`
	StockItemID   string    `json:"stock_item_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	Available     int       `json:"available"`
}

type BatchReserveHTTPRequest struct {
	Lines []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"lines"`
}

type BatchReserveHTTPResponse struct {
	Reservations []LineReservationHTTP `json:"reservations"`
}

type LineReservationHTTP struct {
	ProductID     string `json:"product_id"`
	StockItemID   string `json:"stock_item_id"`
	ReservationID string `json:"reservation_id"`
	Quantity      int    `json:"quantity"`
}

type AdjustHTTPRequest struct {
	Adjustment int    `json:"adjustment"`
	Reason     string `json:"reason"`
	Actor      string `json:"actor"`
}

type AdjustHTTPResponse struct {
	StockItemID    string `json:"stock_item_id"`
	QuantityOnHand int    `json:"quantity_on_hand"`
	Available      int    `json:"available"`
}

type AvailableHTTPResponse struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
}

type StockLevelHTTP struct {
	ProductID      string `json:"product_id"`
	QuantityOnHand int    `json:"quantity_on_hand"`
	Available      int    `json:"available"`
	InStock        bool   `json:"in_stock"`
	LowStock       bool   `json:"low_stock"`
}

type MessageHTTPResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(stockService *service.StockService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		stockService: stockService,
		log:          log.With().Str("component", "http").Logger(),
	}
}

// Register mounts the inventory routes and /health on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/inventory/stock/{productID}", h.Provision)
	mux.HandleFunc("POST /api/inventory/stock/{productID}/reserve", h.Reserve)
	mux.HandleFunc("POST /api/inventory/stock/{productID}/adjust", h.Adjust)
	mux.HandleFunc("POST /api/inventory/stock/{productID}/reservations/{reservationID}/commit", h.Commit)
	mux.HandleFunc("GET /api/inventory/stock/{productID}/available", h.Available)
	mux.HandleFunc("GET /api/inventory/stock", h.Levels)
	mux.HandleFunc("POST /api/inventory/reservations", h.ReserveBatch)
	mux.HandleFunc("DELETE /api/inventory/reservations/{reservationID}", h.Release)
}

func (h *HTTPHandler) Provision(w http.ResponseWriter, r *http.Request) {
	created, err := h.stockService.Provision(r.Context(), r.PathValue("productID"), "")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if created {
		writeJSON(w, http.StatusCreated, MessageHTTPResponse{Success: true, Message: "stock item provisioned"})
		return
	}
	writeJSON(w, http.StatusOK, MessageHTTPResponse{Success: true, Message: "stock item already exists"})
}

func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.stockService.Reserve(r.Context(), r.PathValue("productID"), req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReserveHTTPResponse{
		ReservationID: res.ReservationID,
		StockItemID:   res.StockItemID,
		ExpiresAt:     res.ExpiresAt,
		Available:     res.Available,
	})
}

func (h *HTTPHandler) ReserveBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchReserveHTTPRequest
	if !decode(w, r, &req) {
		return
	}

	lines := make([]service.OrderLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, service.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
	}

	taken, err := h.stockService.ReserveBatch(r.Context(), lines)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := BatchReserveHTTPResponse{Reservations: make([]LineReservationHTTP, 0, len(taken))}
	for _, t := range taken {
		resp.Reservations = append(resp.Reservations, LineReservationHTTP(t))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Release frees a reservation. The owning item is named by stockItemId, or
// by productId for callers that only track products.
func (h *HTTPHandler) Release(w http.ResponseWriter, r *http.Request) {
	reservationID := r.PathValue("reservationID")
	q := r.URL.Query()

	var err error
	switch {
	case q.Get("stockItemId") != "":
		_, err = h.stockService.ReleaseReservation(r.Context(), q.Get("stockItemId"), reservationID)
	case q.Get("productId") != "":
		_, err = h.stockService.ReleaseProductReservation(r.Context(), q.Get("productId"), reservationID)
	default:
		writeJSON(w, http.StatusBadRequest, MessageHTTPResponse{Message: "stockItemId or productId is required"})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustHTTPRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.stockService.AdjustStock(r.Context(), r.PathValue("productID"), req.Adjustment, req.Reason, req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, AdjustHTTPResponse{
		StockItemID:    res.StockItemID,
		QuantityOnHand: res.QuantityOnHand,
		Available:      res.Available,
	})
}

func (h *HTTPHandler) Commit(w http.ResponseWriter, r *http.Request) {
	if _, err := h.stockService.CommitReservation(r.Context(), r.PathValue("productID"), r.PathValue("reservationID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageHTTPResponse{Success: true, Message: "reservation committed"})
}

func (h *HTTPHandler) Available(w http.ResponseWriter, r *http.Request) {
	productID := r.PathValue("productID")
	qty, err := h.stockService.ReadAvailableQuantity(r.Context(), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AvailableHTTPResponse{ProductID: productID, Available: qty})
}

func (h *HTTPHandler) Levels(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("productIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		writeJSON(w, http.StatusBadRequest, MessageHTTPResponse{Message: "productIds is required"})
		return
	}

	levels, err := h.stockService.StockLevels(r.Context(), ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]StockLevelHTTP, 0, len(levels))
	for _, l := range levels {
		out = append(out, StockLevelHTTP(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, MessageHTTPResponse{Success: false, Message: message})
}

func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvariantViolation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "stock item is busy, try again"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, MessageHTTPResponse{Success: false, Message: "invalid request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// AccessLog logs one line per request.
func AccessLog(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
