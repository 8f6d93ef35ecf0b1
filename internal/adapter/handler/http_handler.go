package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

type HTTPHandler struct {
	ledger       *service.Ledger
	orderService *service.OrderService
}

type ReserveHTTPRequest struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type PurchaseHTTPRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ItemID    string `json:"item_id"`
	Quantity  int    `json:"quantity"`
}

type ReserveHTTPResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	ItemID    string `json:"item_id,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
	Version   int64  `json:"version,omitempty"`
}

type ItemHTTPRequest struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type ItemHTTPResponse struct {
	ItemID   string `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Version  int64  `json:"version"`
}

func NewHTTPHandler(ledger *service.Ledger, orderService *service.OrderService) *HTTPHandler {
	return &HTTPHandler{ledger: ledger, orderService: orderService}
}

// Reserve decrements stock directly through the ledger.
func (h *HTTPHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ReserveHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "invalid request body"})
		return
	}
	if req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "missing item_id"})
		return
	}

	res, err := h.ledger.ReserveStock(r.Context(), req.ItemID, req.Quantity)
	if err != nil {
		status, message := reserveError(err)
		writeJSON(w, status, ReserveHTTPResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, ReserveHTTPResponse{
		Success:   true,
		ItemID:    res.ItemID,
		Remaining: res.Remaining,
		Version:   res.Version,
	})
}

// Purchase submits an order request through the deduplicating order service.
func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PurchaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "invalid request body"})
		return
	}
	if req.RequestID == "" || req.UserID == "" || req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "missing required fields"})
		return
	}

	res, err := h.orderService.Purchase(r.Context(), req.RequestID, req.UserID, req.ItemID, req.Quantity)
	if err != nil {
		status, message := reserveError(err)
		writeJSON(w, status, ReserveHTTPResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, ReserveHTTPResponse{
		Success:   true,
		ItemID:    res.ItemID,
		Remaining: res.Remaining,
		Version:   res.Version,
	})
}

// Items handles the admin surface: POST to register an item, GET to list.
func (h *HTTPHandler) Items(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createItem(w, r)
	case http.MethodGet:
		h.listItems(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// Item serves GET /api/items/{id}.
func (h *HTTPHandler) Item(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	itemID := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if itemID == "" || strings.Contains(itemID, "/") {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	item, err := h.ledger.GetItem(r.Context(), itemID)
	if err != nil {
		status, message := reserveError(err)
		writeJSON(w, status, ReserveHTTPResponse{Message: message})
		return
	}

	writeJSON(w, http.StatusOK, itemResponse(*item))
}

func (h *HTTPHandler) createItem(w http.ResponseWriter, r *http.Request) {
	var req ItemHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "invalid request body"})
		return
	}
	if req.ItemID == "" || req.Quantity < 0 {
		writeJSON(w, http.StatusBadRequest, ReserveHTTPResponse{Message: "missing item_id or negative quantity"})
		return
	}

	err := h.ledger.CreateItem(r.Context(), domain.InventoryItem{
		ID:       req.ItemID,
		Name:     req.Name,
		Quantity: req.Quantity,
	})
	if err != nil {
		if errors.Is(err, domain.ErrItemExists) {
			writeJSON(w, http.StatusConflict, ReserveHTTPResponse{Message: "item already exists"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, ReserveHTTPResponse{Message: "storage unavailable"})
		return
	}

	writeJSON(w, http.StatusCreated, ItemHTTPResponse{
		ItemID:   req.ItemID,
		Name:     req.Name,
		Quantity: req.Quantity,
	})
}

func (h *HTTPHandler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ListItems(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ReserveHTTPResponse{Message: "storage unavailable"})
		return
	}

	resp := make([]ItemHTTPResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, itemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func itemResponse(item domain.InventoryItem) ItemHTTPResponse {
	return ItemHTTPResponse{
		ItemID:   item.ID,
		Name:     item.Name,
		Quantity: item.Quantity,
		Version:  item.Version,
	}
}

// reserveError maps the reservation error taxonomy to HTTP semantics. The
// split matters to callers: 4xx means the request can never succeed as
// stated, 409/410 are contention/business outcomes, 503 means try later.
func reserveError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		return http.StatusBadRequest, "quantity must be positive"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "item not found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusGone, "sold out"
	case errors.Is(err, domain.ErrRetriesExhausted):
		return http.StatusConflict, "too much contention, try again"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
