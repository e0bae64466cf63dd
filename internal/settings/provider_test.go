package settings

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	values  map[string]string
	loadErr error
}

func (m *memStore) Load(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return maps.Clone(m.values), nil
}

func (m *memStore) Save(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	maps.Copy(m.values, values)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDefaults(t *testing.T) {
	p := NewProvider(&memStore{}, Defaults(0.12, 0.10, "php"), nil)

	s := p.Current()
	assert.True(t, s.TaxRate.Equal(dec("0.12")))
	assert.True(t, s.ServiceRate.Equal(dec("0.10")))
	assert.Equal(t, "PHP", s.Currency)

	usd, ok := s.ExchangeRate("usd")
	require.True(t, ok)
	assert.True(t, usd.Equal(dec("0.01705")))

	base, ok := s.ExchangeRate("PHP")
	require.True(t, ok)
	assert.True(t, base.Equal(decimal.NewFromInt(1)))

	_, ok = s.ExchangeRate("GBP")
	assert.False(t, ok)
}

func TestReloadAppliesOverrides(t *testing.T) {
	store := &memStore{values: map[string]string{
		"tax_rate":          "0.08",
		"service_rate":      "oops",
		"exchange_rate.GBP": "0.0135",
	}}
	p := NewProvider(store, Defaults(0.12, 0.10, "PHP"), nil)

	require.NoError(t, p.Reload(t.Context()))

	s := p.Current()
	assert.True(t, s.TaxRate.Equal(dec("0.08")))
	assert.True(t, s.ServiceRate.Equal(dec("0.10")), "malformed value falls back to default")
	gbp, ok := s.ExchangeRate("GBP")
	require.True(t, ok)
	assert.True(t, gbp.Equal(dec("0.0135")))
	_, ok = s.ExchangeRate("USD")
	assert.True(t, ok)
}

func TestReloadKeepsDefaultsOnInvalidStoredValues(t *testing.T) {
	store := &memStore{values: map[string]string{"tax_rate": "-1"}}
	p := NewProvider(store, Defaults(0.12, 0.10, "PHP"), nil)

	require.NoError(t, p.Reload(t.Context()))
	assert.True(t, p.Current().TaxRate.Equal(dec("0.12")))
}

func TestReloadStoreError(t *testing.T) {
	p := NewProvider(&memStore{loadErr: errors.New("db down")}, Defaults(0.12, 0.10, "PHP"), nil)

	err := p.Reload(t.Context())
	require.Error(t, err)
	assert.True(t, p.Current().TaxRate.Equal(dec("0.12")))
}

func TestUpdate(t *testing.T) {
	store := &memStore{}
	p := NewProvider(store, Defaults(0.12, 0.10, "PHP"), nil)

	tax := dec("0.05")
	s, err := p.Update(t.Context(), Patch{
		TaxRate:       &tax,
		ExchangeRates: map[string]decimal.Decimal{"usd": dec("0.018")},
	})
	require.NoError(t, err)
	assert.True(t, s.TaxRate.Equal(tax))
	assert.True(t, s.ServiceRate.Equal(dec("0.10")))

	usd, _ := s.ExchangeRate("USD")
	assert.True(t, usd.Equal(dec("0.018")))
	assert.Equal(t, "0.05", store.values["tax_rate"])
	assert.Equal(t, "0.018", store.values["exchange_rate.USD"])
}

func TestUpdateRejectsInvalid(t *testing.T) {
	store := &memStore{}
	p := NewProvider(store, Defaults(0.12, 0.10, "PHP"), nil)

	neg := dec("-0.1")
	_, err := p.Update(t.Context(), Patch{ServiceRate: &neg})
	require.ErrorIs(t, err, ErrInvalid)

	hundred := dec("100")
	_, err = p.Update(t.Context(), Patch{TaxRate: &hundred})
	require.ErrorIs(t, err, ErrInvalid)

	fine := dec("0.12345")
	_, err = p.Update(t.Context(), Patch{TaxRate: &fine})
	require.ErrorIs(t, err, ErrInvalid)

	bad := "ZZ"
	_, err = p.Update(t.Context(), Patch{Currency: &bad})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = p.Update(t.Context(), Patch{ExchangeRates: map[string]decimal.Decimal{"USD": decimal.Zero}})
	require.ErrorIs(t, err, ErrInvalid)

	assert.Empty(t, store.values)
	assert.True(t, p.Current().ServiceRate.Equal(dec("0.10")))
}

func TestCurrentReturnsCopy(t *testing.T) {
	p := NewProvider(&memStore{}, Defaults(0.12, 0.10, "PHP"), nil)

	s := p.Current()
	s.ExchangeRates["USD"] = dec("99")

	usd, _ := p.Current().ExchangeRate("USD")
	assert.True(t, usd.Equal(dec("0.01705")))
}
