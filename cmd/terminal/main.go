// Command terminal drives one checkout against the POS API: it creates the
// order, then either pays it or prints the receipt and lets the receipt
// window fall back when no completion notice arrives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-pos-orders/internal/config"
	"github.com/ariefcatur/go-pos-orders/internal/lifecycle"
	"github.com/ariefcatur/go-pos-orders/internal/logx"
	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/ariefcatur/go-pos-orders/internal/posclient"
	"github.com/ariefcatur/go-pos-orders/internal/redisx"
	"github.com/ariefcatur/go-pos-orders/internal/totals"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	itemsFlag := flag.String("items", "", "cart as product_id:qty pairs, e.g. 1:2,3:1")
	method := flag.String("method", "cash", "payment method; empty prints the receipt without paying")
	discount := flag.String("discount", "0", "discount as a fraction of the subtotal")
	note := flag.String("note", "", "order note")
	flag.Parse()

	log := logx.New(cfg.LogLevel, "console").With(zap.String("service", "pos-terminal"))
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *itemsFlag, *method, *discount, *note); err != nil {
		log.Error("checkout failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger, itemsFlag, method, discountFlag, note string) error {
	api := posclient.New(cfg.APIBaseURL, 10*time.Second)

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	channel := &lifecycle.RedisChannel{RDB: rdb, Log: log.Named("channel")}

	qty, err := parseItems(itemsFlag)
	if err != nil {
		return err
	}
	discount, err := decimal.NewFromString(discountFlag)
	if err != nil {
		return fmt.Errorf("discount: %w", err)
	}

	products, err := api.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("list products: %w", err)
	}
	byID := lo.KeyBy(products, func(p orders.Product) int64 { return p.ID })

	req := lifecycle.OrderRequest{Discount: discount, Note: note}
	lines := make([]totals.Line, 0, len(qty))
	for _, it := range qty {
		p, ok := byID[it.ProductID]
		if !ok {
			return fmt.Errorf("unknown product %d", it.ProductID)
		}
		req.Items = append(req.Items, orders.ItemInput{ProductID: p.ID, Qty: it.Qty, UnitPrice: p.Price})
		lines = append(lines, totals.Line{UnitPrice: p.Price, Qty: it.Qty})
	}

	current, err := api.Settings(ctx)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	due, err := totals.Compute(lines, current.Rates(), discount)
	if err != nil {
		return err
	}

	term := &lifecycle.Terminal{Orders: api, Channel: channel, Log: log.Named("terminal")}
	sess, err := term.Checkout(ctx, req)
	if err != nil {
		return err
	}

	serveCtx, cancelServe := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = sess.Serve(serveCtx)
	}()
	defer func() {
		cancelServe()
		<-served
	}()

	if err := sess.OpenPayment(); err != nil {
		return err
	}
	log.Info("amount due", zap.String("order_id", sess.OrderID), zap.String("payable", due.Payable.String()))

	if method != "" {
		m, err := orders.ToPaymentMethod(method)
		if err != nil {
			return err
		}
		pw := &lifecycle.PaymentWindow{Finalizer: api, Channel: channel, Log: log.Named("payment")}
		if _, err := pw.Pay(ctx, sess.OrderID, []orders.PaymentInput{{Method: m, Amount: due.Payable}}); err != nil {
			var stockErr *orders.InsufficientStockError
			if errors.As(err, &stockErr) {
				for _, s := range stockErr.Shortfalls {
					log.Warn("insufficient stock",
						zap.Int64("product_id", s.ProductID),
						zap.Int("required", s.Required),
						zap.Int("available", s.Available))
				}
			}
			return err
		}
	}

	rw := &lifecycle.ReceiptWindow{Finalizer: api, Channel: channel, Timeout: cfg.ReceiptAckTimeout, Log: log.Named("receipt")}
	out, err := rw.Print(ctx, sess.OrderID, due.Payable)
	if err != nil {
		return err
	}

	select {
	case <-sess.Completed():
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
	log.Info("checkout done",
		zap.String("order_id", sess.OrderID),
		zap.String("state", string(sess.State())),
		zap.Bool("acknowledged", out.Acknowledged),
		zap.Bool("fell_back", out.FellBack))
	return nil
}

func parseItems(s string) ([]orders.ItemQty, error) {
	var out []orders.ItemQty
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, q, ok := strings.Cut(pair, ":")
		if !ok {
			q = "1"
		}
		pid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", pair, err)
		}
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("item %q: bad quantity", pair)
		}
		out = append(out, orders.ItemQty{ProductID: pid, Qty: n})
	}
	if len(out) == 0 {
		return nil, errors.New("no items given")
	}
	return out, nil
}
