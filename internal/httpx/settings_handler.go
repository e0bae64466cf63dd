package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/settings"
	"github.com/ariefcatur/go-pos-orders/internal/totals"
)

// SettingsService is satisfied by *settings.Provider.
type SettingsService interface {
	Current() settings.Settings
	Update(ctx context.Context, patch settings.Patch) (settings.Settings, error)
}

type SettingsHandler struct {
	Settings SettingsService
	Log      *zap.Logger

	validate *validator.Validate
}

var hundred = decimal.NewFromInt(100)

// updateSettingsRequest accepts rates either as fractions or, as the POS
// settings screen sends them, as percents.
type updateSettingsRequest struct {
	TaxRate        *decimal.Decimal           `json:"tax_rate"`
	ServiceRate    *decimal.Decimal           `json:"service_rate"`
	TaxPercent     *decimal.Decimal           `json:"tax_percent"`
	ServicePercent *decimal.Decimal           `json:"service_percent"`
	Currency       *string                    `json:"currency" validate:"omitempty,len=3"`
	ExchangeRates  map[string]decimal.Decimal `json:"exchange_rates"`
}

type totalsLine struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Qty       int             `json:"qty" validate:"gte=0"`
}

type totalsRequest struct {
	Items    []totalsLine    `json:"items" validate:"dive"`
	Discount decimal.Decimal `json:"discount"`
	Currency string          `json:"currency" validate:"omitempty,len=3"`
}

type totalsResponse struct {
	Base         totals.Totals   `json:"base"`
	BaseCurrency string          `json:"base_currency"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	Converted    totals.Totals   `json:"converted"`
}

func (h *SettingsHandler) Register(r chi.Router) {
	h.validate = newValidator()
	r.Get("/settings", h.get)
	r.Put("/settings", h.update)
	r.Post("/totals", h.previewTotals)
}

func (h *SettingsHandler) get(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Settings.Current())
}

func (h *SettingsHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	patch := settings.Patch{
		TaxRate:       req.TaxRate,
		ServiceRate:   req.ServiceRate,
		Currency:      req.Currency,
		ExchangeRates: req.ExchangeRates,
	}
	if req.TaxPercent != nil {
		patch.TaxRate = lo.ToPtr(req.TaxPercent.Div(hundred))
	}
	if req.ServicePercent != nil {
		patch.ServiceRate = lo.ToPtr(req.ServicePercent.Div(hundred))
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	s, err := h.Settings.Update(ctx, patch)
	if errors.Is(err, settings.ErrInvalid) {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	if err != nil {
		h.Log.Error("update settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// previewTotals runs the calculator the receipt uses against the current
// settings, optionally converted into a display currency.
func (h *SettingsHandler) previewTotals(w http.ResponseWriter, r *http.Request) {
	var req totalsRequest
	if !decode(w, r, h.validate, &req) {
		return
	}

	snap := h.Settings.Current()
	lines := lo.Map(req.Items, func(it totalsLine, _ int) totals.Line {
		return totals.Line{UnitPrice: it.UnitPrice, Qty: it.Qty}
	})
	base, err := totals.Compute(lines, snap.Rates(), req.Discount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	code := strings.ToUpper(strings.TrimSpace(req.Currency))
	if code == "" {
		code = snap.Currency
	}
	rate, ok := snap.ExchangeRate(code)
	if !ok {
		writeError(w, http.StatusBadRequest, "validation_error", "no exchange rate for "+code, nil)
		return
	}
	converted, err := base.Convert(rate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}

	writeJSON(w, http.StatusOK, totalsResponse{
		Base:         base,
		BaseCurrency: snap.Currency,
		Currency:     code,
		ExchangeRate: rate,
		Converted:    converted,
	})
}
