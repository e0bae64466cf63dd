package httpx

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// StockStore is satisfied by *orders.StockLedger.
type StockStore interface {
	DeductAll(ctx context.Context, key string, items []orders.ItemQty) (orders.DeductResult, error)
	Adjust(ctx context.Context, productID int64, delta int, reason string) (int, error)
	Movements(ctx context.Context, productID int64, limit int) ([]orders.StockMovement, error)
}

type StockHandler struct {
	Ledger StockStore
	Log    *zap.Logger

	validate *validator.Validate
}

type stockItem struct {
	ProductID int64 `json:"product_id" validate:"gt=0"`
	Qty       int   `json:"qty" validate:"gt=0"`
}

type deductRequest struct {
	DeductionKey string      `json:"deduction_key" validate:"max=128"`
	Items        []stockItem `json:"items" validate:"required,min=1,dive"`
}

type adjustRequest struct {
	ProductID int64  `json:"product_id" validate:"gt=0"`
	Delta     int    `json:"delta" validate:"ne=0"`
	Reason    string `json:"reason" validate:"required,max=64"`
}

type adjustResponse struct {
	ProductID int64 `json:"product_id"`
	Stock     int   `json:"stock"`
}

func (h *StockHandler) Register(r chi.Router) {
	h.validate = newValidator()
	r.Post("/stock/deduct", h.deduct)
	r.Post("/stock/adjust", h.adjust)
	r.Get("/products/{id}/movements", h.movements)
}

const maxMovements = 500

// deduct serves the bill-out-then-deduct path. The key may come in the body
// or the Idempotency-Key header; one of them is required.
func (h *StockHandler) deduct(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	if req.DeductionKey == "" {
		req.DeductionKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	items := lo.Map(req.Items, func(it stockItem, _ int) orders.ItemQty {
		return orders.ItemQty{ProductID: it.ProductID, Qty: it.Qty}
	})
	res, err := h.Ledger.DeductAll(ctx, req.DeductionKey, items)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	h.Log.Info("legacy stock deduction",
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("deduction_key", req.DeductionKey),
		zap.Bool("already_applied", res.AlreadyApplied))
	writeJSON(w, http.StatusOK, res)
}

func (h *StockHandler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stock, err := h.Ledger.Adjust(ctx, req.ProductID, req.Delta, req.Reason)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, adjustResponse{ProductID: req.ProductID, Stock: stock})
}

// movements lists the stock audit trail of one product, newest first.
func (h *StockHandler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "product id must be a positive integer", nil)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 || limit > maxMovements {
			writeError(w, http.StatusBadRequest, "validation_error", "limit must be between 1 and 500", nil)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ms, err := h.Ledger.Movements(ctx, id, limit)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}
