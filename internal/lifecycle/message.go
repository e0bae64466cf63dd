// Package lifecycle coordinates one order across the three POS contexts: the
// terminal that builds the cart, the payment window and the receipt window.
// The contexts share nothing but the order API and a best-effort message
// channel; correctness rests on the server's idempotent create and finalize.
package lifecycle

import (
	"context"
	"time"
)

type MessageType string

const (
	MsgCreated   MessageType = "created"
	MsgPrinted   MessageType = "printed"
	MsgCompleted MessageType = "completed"
)

type Message struct {
	Type    MessageType `json:"type"`
	OrderID string      `json:"order_id"`
	Source  string      `json:"source,omitempty"`
	At      time.Time   `json:"at"`
}

// Channel delivers messages per order. Delivery is unordered and may drop
// messages; nothing may depend on a message arriving.
type Channel interface {
	Publish(ctx context.Context, m Message) error
	Subscribe(ctx context.Context, orderID string) (Subscription, error)
}

type Subscription interface {
	C() <-chan Message
	Close() error
}

func newMessage(t MessageType, orderID, source string) Message {
	return Message{Type: t, OrderID: orderID, Source: source, At: time.Now().UTC()}
}
