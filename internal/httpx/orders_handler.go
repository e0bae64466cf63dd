package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/lifecycle"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/settings"
)

// OrderStore is satisfied by *orders.Repo.
type OrderStore interface {
	Create(ctx context.Context, in orders.CreateOrderInput) (orders.CreateResult, error)
	Get(ctx context.Context, orderID string) (orders.Order, error)
	GetStatus(ctx context.Context, orderID string) (orders.Status, error)
	Finalize(ctx context.Context, orderID string, payments []orders.PaymentInput) (orders.FinalizeResult, error)
}

// OrderCache is satisfied by *redisx.Cache.
type OrderCache interface {
	RememberOrder(ctx context.Context, idemKey, orderID string) error
	LookupOrder(ctx context.Context, idemKey string) (string, bool, error)
	SetStatus(ctx context.Context, orderID, status string) error
	Status(ctx context.Context, orderID string) (string, bool, error)
}

// EventEmitter is satisfied by *kafka.Producer.
type EventEmitter interface {
	Emit(ctx context.Context, eventType, producer, traceID, orderID string, payload any) error
}

// SettingsSource is satisfied by *settings.Provider.
type SettingsSource interface {
	Current() settings.Settings
}

type OrdersHandler struct {
	Store     OrderStore
	Cache     OrderCache
	Created   EventEmitter
	Completed EventEmitter
	Settings  SettingsSource
	Channel   lifecycle.Channel
	Service   string
	Log       *zap.Logger

	validate *validator.Validate
}

type createOrderItem struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	Qty       int             `json:"qty" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type createOrderRequest struct {
	Items          []createOrderItem    `json:"items" validate:"required,min=1,dive"`
	Discount       decimal.Decimal      `json:"discount"`
	Note           string               `json:"note" validate:"max=500"`
	Currency       string               `json:"currency" validate:"omitempty,len=3"`
	ExchangeRate   *orders.ExchangeRate `json:"exchange_rate"`
	TableID        *string              `json:"table_id" validate:"omitempty,max=32"`
	IdempotencyKey string               `json:"idempotency_key" validate:"max=128"`
}

type paymentRequest struct {
	Method    string          `json:"method" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Reference *string         `json:"reference" validate:"omitempty,max=128"`
}

type finalizeRequest struct {
	Payments []paymentRequest `json:"payments" validate:"required,min=1,dive"`
}

type messageRequest struct {
	Type   string `json:"type" validate:"required,oneof=created printed completed"`
	Source string `json:"source" validate:"max=32"`
}

type statusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Cached  bool   `json:"cached"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	h.validate = newValidator()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Post("/orders/{id}/finalize", h.finalizeOrder)
	r.Post("/orders/{id}/messages", h.publishMessage)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, h.validate, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	log := h.Log.With(zap.String("request_id", middleware.GetReqID(ctx)), zap.String("idempotency_key", req.IdempotencyKey))

	// Fast path: redis remembers keys seen recently. Postgres stays the
	// authority, so a miss or a redis error just falls through.
	if req.IdempotencyKey != "" {
		if id, ok, err := h.Cache.LookupOrder(ctx, req.IdempotencyKey); err != nil {
			log.Warn("idempotency cache lookup", zap.Error(err))
		} else if ok {
			writeJSON(w, http.StatusOK, orders.CreateResult{OrderID: id, AlreadyExisted: true})
			return
		}
	}

	snap := h.Settings.Current()
	in := orders.CreateOrderInput{
		Items: lo.Map(req.Items, func(it createOrderItem, _ int) orders.ItemInput {
			return orders.ItemInput{ProductID: it.ProductID, Qty: it.Qty, UnitPrice: it.UnitPrice}
		}),
		Discount:       req.Discount,
		Note:           req.Note,
		Currency:       req.Currency,
		ExchangeRate:   req.ExchangeRate,
		TableID:        req.TableID,
		IdempotencyKey: req.IdempotencyKey,
		Rates:          snap.Rates(),
	}
	if in.ExchangeRate == nil && in.Currency != "" {
		if rate, ok := snap.ExchangeRate(in.Currency); ok {
			in.ExchangeRate = &orders.ExchangeRate{Code: strings.ToUpper(in.Currency), Rate: rate}
		}
	}

	res, err := h.Store.Create(ctx, in)
	if err != nil {
		writeDomainError(w, r, log, err)
		return
	}
	log = log.With(zap.String("order_id", res.OrderID))

	if req.IdempotencyKey != "" {
		if err := h.Cache.RememberOrder(ctx, req.IdempotencyKey, res.OrderID); err != nil {
			log.Warn("remember idempotency key", zap.Error(err))
		}
	}
	if res.AlreadyExisted {
		writeJSON(w, http.StatusOK, res)
		return
	}

	if err := h.Cache.SetStatus(ctx, res.OrderID, string(orders.StatusPending)); err != nil {
		log.Warn("cache order status", zap.Error(err))
	}
	payload := orders.OrderCreatedPayload{
		OrderID:        res.OrderID,
		IdempotencyKey: req.IdempotencyKey,
		Currency:       in.Currency,
		Items: lo.Map(in.Items, func(it orders.ItemInput, _ int) orders.OrderItem {
			return orders.OrderItem{ProductID: it.ProductID, Qty: it.Qty, UnitPrice: it.UnitPrice}
		}),
	}
	if err := h.Created.Emit(ctx, orders.EventOrderCreated, h.Service, middleware.GetReqID(ctx), res.OrderID, payload); err != nil {
		log.Error("publish order created", zap.Error(err))
	}

	log.Info("order created")
	writeJSON(w, http.StatusCreated, res)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	o, err := h.Store.Get(ctx, orderID)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	if err := h.Cache.SetStatus(ctx, o.ID, string(o.Status)); err != nil {
		h.Log.Warn("cache order status", zap.String("order_id", o.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if s, ok, err := h.Cache.Status(ctx, orderID); err == nil && ok {
		writeJSON(w, http.StatusOK, statusResponse{OrderID: orderID, Status: s, Cached: true})
		return
	}

	status, err := h.Store.GetStatus(ctx, orderID)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	if err := h.Cache.SetStatus(ctx, orderID, string(status)); err != nil {
		h.Log.Warn("cache order status", zap.String("order_id", orderID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, statusResponse{OrderID: orderID, Status: string(status)})
}

func (h *OrdersHandler) finalizeOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req finalizeRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	payments := make([]orders.PaymentInput, 0, len(req.Payments))
	for _, p := range req.Payments {
		m, err := orders.ToPaymentMethod(p.Method)
		if err != nil {
			writeDomainError(w, r, h.Log, err)
			return
		}
		payments = append(payments, orders.PaymentInput{Method: m, Amount: p.Amount, Reference: p.Reference})
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	log := h.Log.With(zap.String("request_id", middleware.GetReqID(ctx)), zap.String("order_id", orderID))

	res, err := h.Store.Finalize(ctx, orderID, payments)
	if err != nil {
		writeDomainError(w, r, log, err)
		return
	}
	if err := h.Cache.SetStatus(ctx, orderID, string(orders.StatusCompleted)); err != nil {
		log.Warn("cache order status", zap.Error(err))
	}

	if !res.AlreadyCompleted {
		payload := orders.OrderCompletedPayload{
			OrderID:     orderID,
			Items:       res.Items,
			Methods:     lo.Map(res.Methods, func(m orders.PaymentMethod, _ int) string { return string(m) }),
			Total:       res.Totals.Payable,
			Currency:    res.Currency,
			CompletedAt: res.CompletedAt,
		}
		if err := h.Completed.Emit(ctx, orders.EventOrderCompleted, h.Service, middleware.GetReqID(ctx), orderID, payload); err != nil {
			log.Error("publish order completed", zap.Error(err))
		}
		log.Info("order finalized", zap.Strings("methods", payload.Methods), zap.String("total", payload.Total.String()))
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) publishMessage(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req messageRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	m := lifecycle.Message{Type: lifecycle.MessageType(req.Type), OrderID: orderID, Source: req.Source, At: time.Now().UTC()}
	if err := h.Channel.Publish(ctx, m); err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, m)
}
