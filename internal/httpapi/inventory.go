package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/samuniv/saga-commerce/internal/inventory"
)

type InventoryHandler struct {
	svc *inventory.Service
}

func NewInventoryHandler(svc *inventory.Service) *InventoryHandler {
	return &InventoryHandler{svc: svc}
}

type createItemRequest struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	SKU       string  `json:"sku"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

func (h *InventoryHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	item, err := h.svc.CreateItem(ctx, req.ProductID, req.Name, req.Quantity, req.UnitPrice, req.SKU)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *InventoryHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	item, err := h.svc.GetByProductID(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *InventoryHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.svc.List(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *InventoryHandler) ListLowStock(w http.ResponseWriter, r *http.Request) {
	threshold := 10
	if v := r.URL.Query().Get("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeMessage(w, http.StatusBadRequest, "threshold must be a non-negative integer")
			return
		}
		threshold = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items, err := h.svc.ListLowStock(ctx, threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []inventory.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *InventoryHandler) Restock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.Restock)
}

func (h *InventoryHandler) RemoveStock(w http.ResponseWriter, r *http.Request) {
	h.adjust(w, r, h.svc.RemoveStock)
}

func (h *InventoryHandler) adjust(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int) error) {
	productID := chi.URLParam(r, "productId")

	var req quantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := op(ctx, productID, req.Quantity); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.svc.GetByProductID(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type priceRequest struct {
	UnitPrice float64 `json:"unitPrice"`
}

func (h *InventoryHandler) UpdatePrice(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")

	var req priceRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.svc.UpdateUnitPrice(ctx, productID, req.UnitPrice); err != nil {
		writeError(w, err)
		return
	}

	item, err := h.svc.GetByProductID(ctx, productID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}
