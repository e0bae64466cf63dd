// Package posclient talks to the POS API on behalf of the terminal and its
// payment and receipt windows.
package posclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/lifecycle"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/settings"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: timeout}}
}

type apiError struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details"`
}

func (c *Client) CreateOrder(ctx context.Context, req lifecycle.OrderRequest) (orders.CreateResult, error) {
	var res orders.CreateResult
	err := c.do(ctx, http.MethodPost, "/orders", req, &res)
	return res, err
}

func (c *Client) FinalizeOrder(ctx context.Context, orderID string, payments []orders.PaymentInput) (orders.FinalizeResult, error) {
	var res orders.FinalizeResult
	body := map[string]any{"payments": payments}
	err := c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/finalize", body, &res)
	return res, err
}

func (c *Client) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	var o orders.Order
	err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &o)
	return o, err
}

func (c *Client) ListProducts(ctx context.Context) ([]orders.Product, error) {
	var ps []orders.Product
	err := c.do(ctx, http.MethodGet, "/products", nil, &ps)
	return ps, err
}

func (c *Client) Settings(ctx context.Context) (settings.Settings, error) {
	var s settings.Settings
	err := c.do(ctx, http.MethodGet, "/settings", nil, &s)
	return s, err
}

// do sends one JSON request. Transport failures and 503s are reported as
// orders.ErrTransient; the other API error codes map back to their sentinels.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %w", orders.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var e apiError
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		e.Message = resp.Status
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", orders.ErrValidation, e.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", orders.ErrNotFound, e.Message)
	case http.StatusConflict:
		var shortfalls []orders.Shortfall
		if len(e.Details) > 0 {
			if err := json.Unmarshal(e.Details, &shortfalls); err != nil {
				return fmt.Errorf("%w: %s", orders.ErrInsufficientStock, e.Message)
			}
		}
		return &orders.InsufficientStockError{Shortfalls: shortfalls}
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", orders.ErrTransient, e.Message)
	default:
		return errors.New("api: " + resp.Status + ": " + e.Message)
	}
}
