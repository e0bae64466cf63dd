package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

// CatalogStore is satisfied by *orders.Repo.
type CatalogStore interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
	GetProduct(ctx context.Context, id int64) (orders.Product, error)
	ListSales(ctx context.Context, from, to time.Time) ([]orders.SalesSummary, error)
}

type CatalogHandler struct {
	Store CatalogStore
	Log   *zap.Logger
}

func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/reports/sales", h.salesReport)
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "validation_error", "product id must be a positive integer", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Store.GetProduct(ctx, id)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// salesReport defaults to the last 24 hours. from and to are RFC 3339.
func (h *CatalogHandler) salesReport(w http.ResponseWriter, r *http.Request) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "from must be RFC 3339", nil)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "validation_error", "to must be RFC 3339", nil)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	sales, err := h.Store.ListSales(ctx, from, to)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}
