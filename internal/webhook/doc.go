// Package webhook authenticates payment provider callbacks and turns their
// provider specific payloads into a single PaymentEvent.
package webhook
