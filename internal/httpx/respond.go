package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string, details any) {
	writeJSON(w, code, errorResponse{Error: errCode, Message: msg, Details: details})
}

// writeDomainError maps the orders error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var stockErr *orders.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, "insufficient_stock", stockErr.Error(), stockErr.Shortfalls)
	case errors.Is(err, orders.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, orders.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, orders.ErrTransient):
		log.Warn("transient storage error", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "transient", "storage temporarily unavailable, retry with the same idempotency key", nil)
	default:
		log.Error("request failed", zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports false on failure.
func decode(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]fieldError, 0, len(verrs))
			for _, e := range verrs {
				details = append(details, fieldError{Field: fieldPath(e), Message: validationMessage(e)})
			}
			writeError(w, http.StatusBadRequest, "validation_error", "request validation failed", details)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return false
	}
	return true
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "len":
		return "must be exactly " + e.Param() + " characters"
	case "oneof":
		return "must be one of: " + e.Param()
	case "ne":
		return "must not be " + e.Param()
	default:
		return "is invalid"
	}
}

// fieldPath drops the request type from the namespace: items[0].qty.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
