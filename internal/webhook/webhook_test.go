package webhook

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examshield/internal/config"
)

const testSecret = "whsec-0123456789"

var samplePayload = []byte(`{"status":"paid","email":"a@x.com","id":"txn_123","amount":99.99}`)

func newTestVerifier(secret string) (*Verifier, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewVerifier(config.SecurityConfig{WebhookSecret: secret}, logger), &buf
}

func TestValid(t *testing.T) {
	sig := Sign([]byte(testSecret), samplePayload)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{name: "exact", header: sig, want: true},
		{name: "uppercase hex", header: strings.ToUpper(sig), want: true},
		{name: "surrounding whitespace", header: "  " + sig + "\n", want: true},
		{name: "sha256 prefix", header: "sha256=" + sig, want: true},
		{name: "uppercase prefix", header: "SHA256=" + sig, want: true},
		{name: "empty", header: "", want: false},
		{name: "not hex", header: "zz" + sig[2:], want: false},
		{name: "truncated", header: sig[:len(sig)-2], want: false},
		{name: "wrong secret", header: Sign([]byte("other"), samplePayload), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid([]byte(testSecret), samplePayload, tt.header))
		})
	}
}

func TestValid_AnyBitFlipInvalidates(t *testing.T) {
	sig := Sign([]byte(testSecret), samplePayload)

	for i := range samplePayload {
		for bit := 0; bit < 8; bit++ {
			mutated := bytes.Clone(samplePayload)
			mutated[i] ^= 1 << bit
			if !assert.False(t, Valid([]byte(testSecret), mutated, sig), "byte %d bit %d", i, bit) {
				return
			}
		}
	}
}

func TestVerifier(t *testing.T) {
	t.Run("enabled checks signature", func(t *testing.T) {
		v, _ := newTestVerifier(testSecret)
		require.True(t, v.Enabled())
		assert.True(t, v.Verify(context.Background(), samplePayload, Sign([]byte(testSecret), samplePayload)))
		assert.False(t, v.Verify(context.Background(), samplePayload, "deadbeef"))
	})

	for _, secret := range []string{"", config.PlaceholderSecret} {
		t.Run("bypass for "+strings.TrimSpace(secret+" secret"), func(t *testing.T) {
			v, logs := newTestVerifier(secret)
			assert.False(t, v.Enabled())

			assert.True(t, v.Verify(context.Background(), samplePayload, ""))
			assert.True(t, v.Verify(context.Background(), samplePayload, "garbage"))
			assert.Equal(t, 2, strings.Count(logs.String(), "verification bypassed"), "every bypass is logged")
			assert.Contains(t, logs.String(), `"level":"WARN"`)
		})
	}
}

func TestParsePaymentEvent(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    PaymentEvent
		success bool
	}{
		{
			name:    "primary fields",
			body:    `{"status":"paid","email":"a@x.com","id":"txn_1","amount":"99.99"}`,
			want:    PaymentEvent{Status: "paid", Email: "a@x.com", TransactionID: "txn_1"},
			success: true,
		},
		{
			name:    "alias fields",
			body:    `{"payment_status":"Payment.Captured","customer_email":" b@x.com ","transaction_id":"t2","amount_paid":299.99}`,
			want:    PaymentEvent{Status: "Payment.Captured", Email: "b@x.com", TransactionID: "t2"},
			success: true,
		},
		{
			name:    "nested customer email and event status",
			body:    `{"event":"payment.succeeded","customer":{"email":"c@x.com"},"payment_id":"pay_9"}`,
			want:    PaymentEvent{Status: "payment.succeeded", Email: "c@x.com", TransactionID: "pay_9"},
			success: true,
		},
		{
			name:    "empty primary falls back to alias",
			body:    `{"status":"","payment_status":"COMPLETED","email":"","customer_email":"d@x.com","id":42}`,
			want:    PaymentEvent{Status: "COMPLETED", Email: "d@x.com", TransactionID: "42"},
			success: true,
		},
		{
			name:    "failed payment",
			body:    `{"status":"failed","email":"a@x.com"}`,
			want:    PaymentEvent{Status: "failed", Email: "a@x.com"},
			success: false,
		},
		{
			name:    "missing status",
			body:    `{"email":"a@x.com"}`,
			want:    PaymentEvent{Email: "a@x.com"},
			success: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePaymentEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want.Status, got.Status)
			assert.Equal(t, tt.want.Email, got.Email)
			assert.Equal(t, tt.want.TransactionID, got.TransactionID)
			assert.Equal(t, tt.success, got.Successful())
		})
	}
}

func TestParsePaymentEvent_Amount(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `{"amount":99.99}`, want: "99.99"},
		{body: `{"amount":"299.99"}`, want: "299.99"},
		{body: `{"amount":0,"amount_paid":"10.50"}`, want: "10.5"},
		{body: `{"amount":"ninety"}`, want: "0"},
		{body: `{}`, want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, err := ParsePaymentEvent([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Amount.String())
		})
	}
}

func TestParsePaymentEvent_Malformed(t *testing.T) {
	for _, body := range []string{``, `{"status":`, `[1,2]`, `"paid"`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParsePaymentEvent([]byte(body))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestRazorpay(t *testing.T) {
	sig := RazorpaySignature("rzp_secret", "order_1", "pay_1")

	assert.True(t, VerifyRazorpay("rzp_secret", "order_1", "pay_1", sig))
	assert.True(t, VerifyRazorpay("rzp_secret", "order_1", "pay_1", strings.ToUpper(sig)))
	assert.False(t, VerifyRazorpay("rzp_secret", "order_1", "pay_2", sig))
	assert.False(t, VerifyRazorpay("other", "order_1", "pay_1", sig))
	assert.False(t, VerifyRazorpay("", "order_1", "pay_1", sig))
	assert.False(t, VerifyRazorpay("rzp_secret", "order_1", "pay_1", "not-hex"))
}

func TestSignMatchesKnownVector(t *testing.T) {
	// RFC 4231 test case 2
	got := Sign([]byte("Jefe"), []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}
