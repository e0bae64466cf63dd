package settings

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Provider serves the current settings snapshot. Reads never touch storage;
// a change becomes visible after Reload or Update.
type Provider struct {
	store    Store
	defaults Settings
	log      *zap.Logger

	cur atomic.Pointer[Settings]
	mu  sync.Mutex // serializes Update
}

func NewProvider(store Store, defaults Settings, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Provider{store: store, defaults: defaults, log: log}
	d := defaults.apply(Patch{})
	p.cur.Store(&d)
	return p
}

func (p *Provider) Current() Settings {
	s := *p.cur.Load()
	s.ExchangeRates = maps.Clone(s.ExchangeRates)
	return s
}

// Reload rebuilds the snapshot from the defaults plus persisted overrides.
// Malformed stored values are skipped with a warning.
func (p *Provider) Reload(ctx context.Context) error {
	raw, err := p.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("settings.Load: %w", err)
	}
	next := p.defaults.apply(p.decode(raw))
	if err := next.Validate(); err != nil {
		p.log.Warn("persisted settings invalid, keeping defaults", zap.Error(err))
		next = p.defaults.apply(Patch{})
	}
	p.cur.Store(&next)
	return nil
}

// Update validates the patch against the current snapshot, persists it and
// reloads.
func (p *Provider) Update(ctx context.Context, patch Patch) (Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := p.Current().apply(patch)
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	if err := p.store.Save(ctx, encode(patch)); err != nil {
		return Settings{}, fmt.Errorf("settings.Save: %w", err)
	}
	if err := p.Reload(ctx); err != nil {
		return Settings{}, err
	}
	p.log.Info("settings updated",
		zap.String("tax_rate", next.TaxRate.String()),
		zap.String("service_rate", next.ServiceRate.String()),
		zap.String("currency", next.Currency))
	return p.Current(), nil
}

func (p *Provider) decode(raw map[string]string) Patch {
	var patch Patch
	parse := func(k, v string) (decimal.Decimal, bool) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			p.log.Warn("skip malformed setting", zap.String("key", k), zap.String("value", v))
			return decimal.Decimal{}, false
		}
		return d, true
	}

	for k, v := range raw {
		switch {
		case k == keyTaxRate:
			if d, ok := parse(k, v); ok {
				patch.TaxRate = &d
			}
		case k == keyServiceRate:
			if d, ok := parse(k, v); ok {
				patch.ServiceRate = &d
			}
		case k == keyCurrency:
			c := v
			patch.Currency = &c
		case strings.HasPrefix(k, keyExchangeRate):
			if d, ok := parse(k, v); ok {
				if patch.ExchangeRates == nil {
					patch.ExchangeRates = map[string]decimal.Decimal{}
				}
				patch.ExchangeRates[strings.TrimPrefix(k, keyExchangeRate)] = d
			}
		}
	}
	return patch
}

func encode(patch Patch) map[string]string {
	out := make(map[string]string)
	if patch.TaxRate != nil {
		out[keyTaxRate] = patch.TaxRate.String()
	}
	if patch.ServiceRate != nil {
		out[keyServiceRate] = patch.ServiceRate.String()
	}
	if patch.Currency != nil {
		out[keyCurrency] = strings.ToUpper(strings.TrimSpace(*patch.Currency))
	}
	for code, r := range patch.ExchangeRates {
		out[keyExchangeRate+strings.ToUpper(code)] = r.String()
	}
	return out
}
