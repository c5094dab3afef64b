package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	apperrors "caredit/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Backends overrides the API endpoints, for tests.
	Backends *stripe.Backends
}

// Stripe is the stripe-go provider. The wallet reference travels as the
// idempotency key and as the "reference" metadata entry.
type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, cfg.Backends)
	return &Stripe{api: sc, webhookSecret: cfg.WebhookSecret}, nil
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) SignatureHeader() string { return "Stripe-Signature" }

func (s *Stripe) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata("reference", req.Reference)
	params.AddMetadata("user_id", fmt.Sprint(req.UserID))
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &PaymentHandle{GatewayRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

func (s *Stripe) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutHandle, error) {
	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(toMinorUnits(req.Amount, req.Currency)),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Narration),
	}
	if req.Destination.AccountNumber != "" {
		params.Destination = stripe.String(req.Destination.AccountNumber)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata("reference", req.Reference)

	po, err := s.api.Payouts.New(params)
	if err != nil {
		return nil, classifyStripeError(err)
	}
	return &PayoutHandle{GatewayRef: po.ID, Status: string(po.Status)}, nil
}

// classifyStripeError turns 4xx answers into rejections. Everything else
// is left for the breaker to treat as an outage.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) &&
		stripeErr.HTTPStatusCode >= http.StatusBadRequest &&
		stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
		stripeErr.HTTPStatusCode != http.StatusTooManyRequests {
		return &RejectedError{Reason: stripeErr.Msg}
	}
	return fmt.Errorf("stripe: %w", err)
}

func (s *Stripe) ParseWebhook(payload []byte, signature string) (Event, error) {
	evt, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return Event{}, apperrors.ErrInvalidSignature
	}
	return eventFromStripe(evt)
}

func eventFromStripe(evt stripe.Event) (Event, error) {
	if evt.Data == nil {
		return Event{}, fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}

	var out Event
	switch evt.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out = eventFromPaymentIntent(&pi, evt.Type == "payment_intent.succeeded")
	case "payout.paid", "payout.failed":
		var po stripe.Payout
		if err := json.Unmarshal(evt.Data.Raw, &po); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out = eventFromPayout(&po, evt.Type == "payout.paid")
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, evt.Type)
	}
	out.ID = evt.ID

	if out.Reference == "" {
		return Event{}, fmt.Errorf("%w: missing reference metadata", ErrInvalidPayload)
	}
	return out, nil
}

func eventFromPaymentIntent(pi *stripe.PaymentIntent, succeeded bool) Event {
	out := Event{
		Reference:  pi.Metadata["reference"],
		GatewayRef: pi.ID,
		Currency:   strings.ToUpper(string(pi.Currency)),
	}
	if succeeded {
		out.Kind = PaymentSucceeded
		out.Amount = fromMinorUnits(pi.AmountReceived, out.Currency)
		return out
	}
	out.Kind = PaymentFailed
	out.Amount = fromMinorUnits(pi.Amount, out.Currency)
	out.FailureReason = "payment failed"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		out.FailureReason = pi.LastPaymentError.Msg
	}
	return out
}

func eventFromPayout(po *stripe.Payout, paid bool) Event {
	out := Event{
		Reference:  po.Metadata["reference"],
		GatewayRef: po.ID,
		Currency:   strings.ToUpper(string(po.Currency)),
	}
	out.Amount = fromMinorUnits(po.Amount, out.Currency)
	if paid {
		out.Kind = PayoutSucceeded
	} else {
		out.Kind = PayoutFailed
		out.FailureReason = firstNonEmpty(po.FailureMessage, "payout failed")
	}
	return out
}

// VerifyPayment retrieves the payment intent or payout by its Stripe id.
func (s *Stripe) VerifyPayment(ctx context.Context, req VerifyRequest) (Event, error) {
	if req.GatewayRef == "" {
		return Event{}, fmt.Errorf("stripe: %s has no gateway id yet: %w", req.Reference, ErrNotSettled)
	}
	if req.Payout {
		params := &stripe.PayoutParams{}
		params.Context = ctx
		po, err := s.api.Payouts.Get(req.GatewayRef, params)
		if err != nil {
			return Event{}, classifyStripeError(err)
		}
		return verifiedPayout(po, req.Reference)
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(req.GatewayRef, params)
	if err != nil {
		return Event{}, classifyStripeError(err)
	}
	return verifiedPaymentIntent(pi, req.Reference)
}

func verifiedPaymentIntent(pi *stripe.PaymentIntent, reference string) (Event, error) {
	var out Event
	switch {
	case pi.Status == stripe.PaymentIntentStatusSucceeded:
		out = eventFromPaymentIntent(pi, true)
	case pi.Status == stripe.PaymentIntentStatusCanceled:
		out = eventFromPaymentIntent(pi, false)
		out.FailureReason = firstNonEmpty(string(pi.CancellationReason), "payment canceled")
	case pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil:
		out = eventFromPaymentIntent(pi, false)
	default:
		return Event{}, fmt.Errorf("stripe: payment intent %s is %s: %w", pi.ID, pi.Status, ErrNotSettled)
	}
	out.ID = fmt.Sprintf("stripe:verify:%s:%s", pi.ID, pi.Status)
	out.Reference = firstNonEmpty(out.Reference, reference)
	return out, nil
}

func verifiedPayout(po *stripe.Payout, reference string) (Event, error) {
	var out Event
	switch po.Status {
	case stripe.PayoutStatusPaid:
		out = eventFromPayout(po, true)
	case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
		out = eventFromPayout(po, false)
	default:
		return Event{}, fmt.Errorf("stripe: payout %s is %s: %w", po.ID, po.Status, ErrNotSettled)
	}
	out.ID = fmt.Sprintf("stripe:verify:%s:%s", po.ID, po.Status)
	out.Reference = firstNonEmpty(out.Reference, reference)
	return out, nil
}

// Stripe amounts are integers in the currency's smallest unit.
var zeroDecimalCurrencies = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true,
	"KMF": true, "KRW": true, "MGA": true, "PYG": true, "RWF": true,
	"UGX": true, "VND": true, "VUV": true, "XAF": true, "XOF": true, "XPF": true,
}

// MinorUnitDigits is how many decimals the currency carries on the wire.
func MinorUnitDigits(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// toMinorUnits expects an amount already validated against
// MinorUnitDigits.
func toMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(MinorUnitDigits(currency)).Round(0).IntPart()
}

func fromMinorUnits(amount int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return decimal.NewFromInt(amount)
	}
	return decimal.New(amount, -2)
}
