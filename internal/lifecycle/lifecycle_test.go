package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFinalizer struct {
	mu        sync.Mutex
	methods   []orders.PaymentMethod
	completed bool
	err       error
}

func (f *fakeFinalizer) FinalizeOrder(_ context.Context, orderID string, payments []orders.PaymentInput) (orders.FinalizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return orders.FinalizeResult{}, f.err
	}
	f.methods = append(f.methods, payments[0].Method)
	already := f.completed
	f.completed = true
	return orders.FinalizeResult{OrderID: orderID, AlreadyCompleted: already}, nil
}

func (f *fakeFinalizer) calls() []orders.PaymentMethod {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orders.PaymentMethod(nil), f.methods...)
}

type fakeCreator struct {
	mu   sync.Mutex
	errs []error
	keys []string
}

func (f *fakeCreator) CreateOrder(_ context.Context, req OrderRequest) (orders.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, req.IdempotencyKey)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return orders.CreateResult{}, err
	}
	return orders.CreateResult{OrderID: "order-" + req.IdempotencyKey}, nil
}

func cart() OrderRequest {
	return OrderRequest{Items: []orders.ItemInput{{ProductID: 1, Qty: 2, UnitPrice: decimal.NewFromInt(100)}}}
}

func cash(amount int64) []orders.PaymentInput {
	return []orders.PaymentInput{{Method: orders.MethodCash, Amount: decimal.NewFromInt(amount)}}
}

func TestTrackerTransitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		wantErr bool
	}{
		{name: "full path", path: []State{StateCreated, StateAwaitingPayment, StateCompleted}},
		{name: "created straight to completed", path: []State{StateCreated, StateCompleted}},
		{name: "repeat completion", path: []State{StateCreated, StateCompleted, StateCompleted}},
		{name: "draft cannot complete", path: []State{StateCompleted}, wantErr: true},
		{name: "draft cannot await payment", path: []State{StateAwaitingPayment}, wantErr: true},
		{name: "completed is terminal", path: []State{StateCreated, StateCompleted, StateAwaitingPayment}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker()
			var err error
			for _, s := range tt.path {
				if err = tr.Advance(s); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], tr.State())
		})
	}
}

func TestMemoryChannel(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := t.Context()

	a, err := ch.Subscribe(ctx, "o-1")
	require.NoError(t, err)
	other, err := ch.Subscribe(ctx, "o-2")
	require.NoError(t, err)

	require.NoError(t, ch.Publish(ctx, newMessage(MsgPrinted, "o-1", SourceReceipt)))

	m := <-a.C()
	assert.Equal(t, MsgPrinted, m.Type)
	assert.Empty(t, other.C())

	ch.SetDrop(func(m Message) bool { return m.Type == MsgCompleted })
	require.NoError(t, ch.Publish(ctx, newMessage(MsgCompleted, "o-1", SourcePayment)))
	assert.Empty(t, a.C())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, ok := <-a.C()
	assert.False(t, ok)
	require.NoError(t, other.Close())
	assert.Empty(t, ch.subs)
}

func TestMemoryChannelSetDropWhilePublishing(t *testing.T) {
	ch := NewMemoryChannel()
	ctx := t.Context()
	sub, err := ch.Subscribe(ctx, "o-1")
	require.NoError(t, err)
	defer sub.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = ch.Publish(ctx, newMessage(MsgPrinted, "o-1", SourceReceipt))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				ch.SetDrop(func(Message) bool { return true })
			} else {
				ch.SetDrop(nil)
			}
		}
	}()
	wg.Wait()

	ch.SetDrop(func(Message) bool { return true })
	for len(sub.C()) > 0 {
		<-sub.C()
	}
	require.NoError(t, ch.Publish(ctx, newMessage(MsgPrinted, "o-1", SourceReceipt)))
	assert.Empty(t, sub.C())
}

func TestReceiptFallsBackOnTimeout(t *testing.T) {
	fin := &fakeFinalizer{}
	w := &ReceiptWindow{Finalizer: fin, Channel: NewMemoryChannel(), Timeout: 30 * time.Millisecond}

	out, err := w.Print(t.Context(), "o-1", decimal.NewFromInt(305))
	require.NoError(t, err)

	assert.Equal(t, ReceiptOutcome{FellBack: true}, out)
	assert.Equal(t, []orders.PaymentMethod{orders.MethodPrintFallback}, fin.calls())
}

func TestReceiptAcknowledgedByPayment(t *testing.T) {
	ctx := t.Context()
	ch := NewMemoryChannel()
	fin := &fakeFinalizer{}
	pay := &PaymentWindow{Finalizer: fin, Channel: ch}
	receipt := &ReceiptWindow{Finalizer: fin, Channel: ch, Timeout: 2 * time.Second}

	observer, err := ch.Subscribe(ctx, "o-1")
	require.NoError(t, err)
	defer observer.Close()

	payErr := make(chan error, 1)
	go func() {
		for m := range observer.C() {
			if m.Type == MsgPrinted {
				_, err := pay.Pay(ctx, "o-1", cash(305))
				payErr <- err
				return
			}
		}
	}()

	out, err := receipt.Print(ctx, "o-1", decimal.NewFromInt(305))
	require.NoError(t, err)
	require.NoError(t, <-payErr)

	assert.Equal(t, ReceiptOutcome{Acknowledged: true}, out)
	assert.Equal(t, []orders.PaymentMethod{orders.MethodCash}, fin.calls())
}

func TestReceiptFallbackWhenAckIsLost(t *testing.T) {
	ctx := t.Context()
	ch := NewMemoryChannel()
	ch.SetDrop(func(m Message) bool { return m.Type == MsgCompleted && m.Source == SourcePayment })
	fin := &fakeFinalizer{}

	res, err := (&PaymentWindow{Finalizer: fin, Channel: ch}).Pay(ctx, "o-1", cash(305))
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)

	out, err := (&ReceiptWindow{Finalizer: fin, Channel: ch, Timeout: 30 * time.Millisecond}).Print(ctx, "o-1", decimal.NewFromInt(305))
	require.NoError(t, err)

	assert.Equal(t, ReceiptOutcome{FellBack: true, AlreadyCompleted: true}, out)
	assert.Equal(t, []orders.PaymentMethod{orders.MethodCash, orders.MethodPrintFallback}, fin.calls())
}

func TestReceiptFallbackError(t *testing.T) {
	fin := &fakeFinalizer{err: orders.ErrNotFound}
	w := &ReceiptWindow{Finalizer: fin, Channel: NewMemoryChannel(), Timeout: 10 * time.Millisecond}

	out, err := w.Print(t.Context(), "o-1", decimal.NewFromInt(1))
	require.ErrorIs(t, err, orders.ErrNotFound)
	assert.True(t, out.FellBack)
}

func TestPaymentInsufficientStockNotAnnounced(t *testing.T) {
	ctx := t.Context()
	ch := NewMemoryChannel()
	observer, err := ch.Subscribe(ctx, "o-1")
	require.NoError(t, err)
	defer observer.Close()

	fin := &fakeFinalizer{err: &orders.InsufficientStockError{Shortfalls: []orders.Shortfall{{ProductID: 2, Required: 3, Available: 1}}}}
	_, err = (&PaymentWindow{Finalizer: fin, Channel: ch}).Pay(ctx, "o-1", cash(10))

	var stockErr *orders.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.Shortfalls[0].ProductID)
	assert.Empty(t, observer.C())
}

func TestTerminalRetriesTransientWithSameKey(t *testing.T) {
	creator := &fakeCreator{errs: []error{
		errors.Join(orders.ErrTransient, errors.New("conn reset")),
		orders.ErrTransient,
	}}
	term := &Terminal{Orders: creator, Channel: NewMemoryChannel(), Retry: RetryPolicy{Attempts: 3, Backoff: time.Millisecond}}

	s, err := term.Checkout(t.Context(), cart())
	require.NoError(t, err)
	defer s.sub.Close()

	require.Len(t, creator.keys, 3)
	assert.Equal(t, creator.keys[0], creator.keys[1])
	assert.Equal(t, creator.keys[0], creator.keys[2])
	assert.Equal(t, s.IdempotencyKey, creator.keys[0])
	assert.Equal(t, StateCreated, s.State())
}

func TestTerminalGivesUpAfterAttempts(t *testing.T) {
	creator := &fakeCreator{errs: []error{orders.ErrTransient, orders.ErrTransient}}
	term := &Terminal{Orders: creator, Channel: NewMemoryChannel(), Retry: RetryPolicy{Attempts: 2, Backoff: time.Millisecond}}

	_, err := term.Checkout(t.Context(), cart())
	require.ErrorIs(t, err, orders.ErrTransient)
	assert.Len(t, creator.keys, 2)
}

func TestTerminalDoesNotRetryValidation(t *testing.T) {
	creator := &fakeCreator{errs: []error{orders.ErrValidation}}
	term := &Terminal{Orders: creator, Channel: NewMemoryChannel()}

	_, err := term.Checkout(t.Context(), cart())
	require.ErrorIs(t, err, orders.ErrValidation)
	assert.Len(t, creator.keys, 1)
}

func TestTerminalFreshKeyPerCheckout(t *testing.T) {
	creator := &fakeCreator{}
	term := &Terminal{Orders: creator, Channel: NewMemoryChannel()}

	a, err := term.Checkout(t.Context(), cart())
	require.NoError(t, err)
	defer a.sub.Close()
	b, err := term.Checkout(t.Context(), cart())
	require.NoError(t, err)
	defer b.sub.Close()

	assert.NotEqual(t, a.IdempotencyKey, b.IdempotencyKey)
	assert.NotEqual(t, a.OrderID, b.OrderID)
}

func TestSessionFullFlow(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	ch := NewMemoryChannel()
	fin := &fakeFinalizer{}
	term := &Terminal{Orders: &fakeCreator{}, Channel: ch}

	s, err := term.Checkout(ctx, cart())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Serve(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	require.NoError(t, s.OpenPayment())
	_, err = (&PaymentWindow{Finalizer: fin, Channel: ch}).Pay(ctx, s.OrderID, cash(305))
	require.NoError(t, err)

	select {
	case <-s.Completed():
	case <-time.After(2 * time.Second):
		t.Fatal("session never saw completion")
	}
	assert.Equal(t, StateCompleted, s.State())

	// a receipt opened after payment is acknowledged by the terminal
	out, err := (&ReceiptWindow{Finalizer: fin, Channel: ch, Timeout: 2 * time.Second}).Print(ctx, s.OrderID, decimal.NewFromInt(305))
	require.NoError(t, err)
	assert.True(t, out.Acknowledged)
	assert.Equal(t, []orders.PaymentMethod{orders.MethodCash}, fin.calls())
}

func TestSessionCompletedByReceiptFallback(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	ch := NewMemoryChannel()
	fin := &fakeFinalizer{}

	s, err := (&Terminal{Orders: &fakeCreator{}, Channel: ch}).Checkout(ctx, cart())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	out, err := (&ReceiptWindow{Finalizer: fin, Channel: ch, Timeout: 20 * time.Millisecond}).Print(ctx, s.OrderID, decimal.NewFromInt(305))
	require.NoError(t, err)
	assert.True(t, out.FellBack)

	select {
	case <-s.Completed():
	case <-time.After(2 * time.Second):
		t.Fatal("session never saw completion")
	}
	assert.Equal(t, StateCompleted, s.State())
}
