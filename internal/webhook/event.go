package webhook

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned for bodies that are not a JSON object
var ErrMalformedPayload = errors.New("malformed webhook payload")

// successStatuses are the provider statuses that mean the payment cleared
var successStatuses = map[string]struct{}{
	"paid":              {},
	"payment.succeeded": {},
	"payment.captured":  {},
	"success":           {},
	"completed":         {},
}

// Field aliases in lookup order. The first present, non-empty value wins.
var (
	statusPaths      = []string{"status", "payment_status", "event"}
	emailPaths       = []string{"email", "customer_email", "customer.email"}
	transactionPaths = []string{"id", "transaction_id", "payment_id"}
	amountPaths      = []string{"amount", "amount_paid"}
)

// PaymentEvent is the provider independent view of a payment callback
type PaymentEvent struct {
	Status        string
	Email         string
	TransactionID string
	Amount        decimal.Decimal
}

// Successful reports whether the status is in the accepted success set
func (e PaymentEvent) Successful() bool {
	_, ok := successStatuses[strings.ToLower(strings.TrimSpace(e.Status))]
	return ok
}

// ParsePaymentEvent canonicalizes a generic provider payload. An amount
// that is missing or not a number is left at zero.
func ParsePaymentEvent(body []byte) (PaymentEvent, error) {
	if !gjson.ValidBytes(body) {
		return PaymentEvent{}, ErrMalformedPayload
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return PaymentEvent{}, ErrMalformedPayload
	}

	return PaymentEvent{
		Status:        firstString(doc, statusPaths),
		Email:         strings.TrimSpace(firstString(doc, emailPaths)),
		TransactionID: firstString(doc, transactionPaths),
		Amount:        firstAmount(doc, amountPaths),
	}, nil
}

func firstString(doc gjson.Result, paths []string) string {
	for _, p := range paths {
		r := doc.Get(p)
		switch r.Type {
		case gjson.String:
			if r.Str != "" {
				return r.Str
			}
		case gjson.Number:
			if r.Num != 0 {
				return r.Raw
			}
		}
	}
	return ""
}

func firstAmount(doc gjson.Result, paths []string) decimal.Decimal {
	for _, p := range paths {
		r := doc.Get(p)
		var raw string
		switch r.Type {
		case gjson.Number:
			raw = r.Raw
		case gjson.String:
			raw = strings.TrimSpace(r.Str)
		default:
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsZero() {
			continue
		}
		return d
	}
	return decimal.Zero
}
