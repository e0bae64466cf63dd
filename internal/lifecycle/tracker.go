package lifecycle

import (
	"errors"
	"fmt"
	"sync"
)

type State string

const (
	StateDraft           State = "draft"
	StateCreated         State = "created"
	StateAwaitingPayment State = "awaiting_payment"
	StateCompleted       State = "completed"
)

var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Created may jump straight to Completed when another context finalizes
// before the payment window opens.
var transitions = map[State][]State{
	StateDraft:           {StateCreated},
	StateCreated:         {StateAwaitingPayment, StateCompleted},
	StateAwaitingPayment: {StateCompleted},
	StateCompleted:       nil,
}

// Tracker holds one order's lifecycle state. Re-entering the current state is
// a no-op, so repeated completion notices are harmless.
type Tracker struct {
	mu    sync.Mutex
	state State
}

func NewTracker() *Tracker { return &Tracker{state: StateDraft} }

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Advance(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == to {
		return nil
	}
	for _, next := range transitions[t.state] {
		if next == to {
			t.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.state, to)
}
