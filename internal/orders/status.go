package orders

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true},
	StatusCompleted: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ToStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("invalid order status %q", s)
	}
	return st, nil
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodEWallet      PaymentMethod = "gcash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	// MethodPrintFallback marks a payment recorded by the receipt window after
	// it timed out waiting for confirmation. Audit these.
	MethodPrintFallback PaymentMethod = "print_fallback"
)

var validMethods = map[PaymentMethod]struct{}{
	MethodCash:          {},
	MethodEWallet:       {},
	MethodBankTransfer:  {},
	MethodPrintFallback: {},
}

func ToPaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(s)
	if s == "e_wallet" {
		m = MethodEWallet
	}
	if _, ok := validMethods[m]; !ok {
		return "", fmt.Errorf("%w: unknown payment method %q", ErrValidation, s)
	}
	return m, nil
}
