package orders_test

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

func (suite *orderRepoSuite) TestDecrementBoundary() {
	tests := []struct {
		name      string
		stock     int
		qty       int
		wantStock int
		wantError error
	}{
		{name: "exact stock: ok", stock: 5, qty: 5, wantStock: 0},
		{name: "partial: ok", stock: 5, qty: 2, wantStock: 3},
		{name: "one over: fail", stock: 5, qty: 6, wantStock: 5, wantError: orders.ErrInsufficientStock},
		{name: "zero qty: fail", stock: 5, qty: 0, wantStock: 5, wantError: orders.ErrValidation},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			t := suite.T()
			id := suite.insertProduct(decimal.NewFromInt(10), tt.stock)

			err := suite.ledger.Decrement(t.Context(), id, tt.qty)
			if tt.wantError != nil {
				require.ErrorIs(t, err, tt.wantError)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, suite.stock(id))
		})
	}
}

func (suite *orderRepoSuite) TestDecrementUnknownProduct() {
	err := suite.ledger.Decrement(suite.T().Context(), 987654, 1)
	require.ErrorIs(suite.T(), err, orders.ErrNotFound)
}

func (suite *orderRepoSuite) TestDeductAllReplay() {
	t := suite.T()
	ctx := t.Context()

	a := suite.insertProduct(decimal.NewFromInt(10), 5)
	b := suite.insertProduct(decimal.NewFromInt(10), 5)
	key := uuid.NewString()
	items := []orders.ItemQty{{ProductID: a, Qty: 2}, {ProductID: b, Qty: 1}, {ProductID: a, Qty: 1}}

	first, err := suite.ledger.DeductAll(ctx, key, items)
	require.NoError(t, err)
	assert.False(t, first.AlreadyApplied)

	second, err := suite.ledger.DeductAll(ctx, key, items)
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)

	assert.Equal(t, 2, suite.stock(a))
	assert.Equal(t, 4, suite.stock(b))

	moves, err := suite.ledger.Movements(ctx, a, 10)
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, -3, moves[0].Delta)
	assert.Equal(t, orders.ReasonLegacyDeduct, moves[0].Reason)
}

func (suite *orderRepoSuite) TestDeductAllShortfallKeepsKeyFree() {
	t := suite.T()
	ctx := t.Context()

	a := suite.insertProduct(decimal.NewFromInt(10), 1)
	key := uuid.NewString()

	_, err := suite.ledger.DeductAll(ctx, key, []orders.ItemQty{{ProductID: a, Qty: 2}})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	_, err = suite.ledger.Adjust(ctx, a, 4, "receiving")
	require.NoError(t, err)

	res, err := suite.ledger.DeductAll(ctx, key, []orders.ItemQty{{ProductID: a, Qty: 2}})
	require.NoError(t, err)
	assert.False(t, res.AlreadyApplied)
	assert.Equal(t, 3, suite.stock(a))
}

func (suite *orderRepoSuite) TestDeductAllValidation() {
	ctx := suite.T().Context()

	_, err := suite.ledger.DeductAll(ctx, "", []orders.ItemQty{{ProductID: 1, Qty: 1}})
	suite.ErrorIs(err, orders.ErrValidation)

	_, err = suite.ledger.DeductAll(ctx, "k", nil)
	suite.ErrorIs(err, orders.ErrValidation)

	_, err = suite.ledger.DeductAll(ctx, "k", []orders.ItemQty{{ProductID: 1, Qty: -1}})
	suite.ErrorIs(err, orders.ErrValidation)
}

func (suite *orderRepoSuite) TestAdjust() {
	t := suite.T()
	ctx := t.Context()

	a := suite.insertProduct(decimal.NewFromInt(10), 3)

	stock, err := suite.ledger.Adjust(ctx, a, 7, "receiving")
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	stock, err = suite.ledger.Adjust(ctx, a, -10, "spoilage")
	require.NoError(t, err)
	assert.Equal(t, 0, stock)

	_, err = suite.ledger.Adjust(ctx, a, -1, "spoilage")
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	_, err = suite.ledger.Adjust(ctx, a, 0, "noop")
	require.ErrorIs(t, err, orders.ErrValidation)

	moves, err := suite.ledger.Movements(ctx, a, 0)
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "spoilage", moves[0].Reason)
	assert.Equal(t, "receiving", moves[1].Reason)
}

func (suite *orderRepoSuite) TestListSalesRange() {
	t := suite.T()
	now := time.Now()

	_, err := suite.repo.ListSales(t.Context(), now, now)
	require.ErrorIs(t, err, orders.ErrValidation)

	sales, err := suite.repo.ListSales(t.Context(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Empty(t, sales)
}
