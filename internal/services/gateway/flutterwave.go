package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "caredit/internal/errors"

	"github.com/shopspring/decimal"
)

type FlutterwaveConfig struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	HTTPClient    *http.Client
}

// Flutterwave is the REST provider. Webhooks carry a hex HMAC-SHA256 of the
// raw body in the verif-hash header.
type Flutterwave struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client
	validator     *PayloadValidator
}

func NewFlutterwave(cfg FlutterwaveConfig) (*Flutterwave, error) {
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("flutterwave secret key is required")
	}
	if cfg.WebhookSecret == "" {
		cfg.WebhookSecret = cfg.SecretKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.flutterwave.com/v3"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	validator, err := NewPayloadValidator(flutterwaveWebhookSchema)
	if err != nil {
		return nil, err
	}
	return &Flutterwave{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		client:        cfg.HTTPClient,
		validator:     validator,
	}, nil
}

func (f *Flutterwave) Name() string { return "flutterwave" }

func (f *Flutterwave) SignatureHeader() string { return "verif-hash" }

type flwEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (f *Flutterwave) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error) {
	body := map[string]interface{}{
		"tx_ref":          req.Reference,
		"amount":          req.Amount.StringFixed(2),
		"currency":        req.Currency,
		"redirect_url":    req.RedirectURL,
		"payment_options": "card,mobilemoney,banktransfer",
		"customer": map[string]string{
			"email":        req.Email,
			"phone_number": req.Phone,
			"name":         req.Name,
		},
		"customizations": map[string]string{
			"title":       "CareCredit",
			"description": req.Description,
		},
		"meta": map[string]interface{}{"user_id": req.UserID},
	}

	var data struct {
		Link string `json:"link"`
	}
	if err := f.post(ctx, "/payments", body, &data); err != nil {
		return nil, err
	}
	return &PaymentHandle{PaymentLink: data.Link}, nil
}

func (f *Flutterwave) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutHandle, error) {
	dest := req.Destination
	if err := dest.Validate(); err != nil {
		return nil, &RejectedError{Reason: err.Error()}
	}
	body := map[string]interface{}{
		"amount":    req.Amount.StringFixed(2),
		"currency":  req.Currency,
		"narration": req.Narration,
		"reference": req.Reference,
	}
	switch dest.Kind() {
	case PayoutMobileMoney:
		// Flutterwave routes mobile money through the operator code as the bank.
		body["account_bank"] = strings.ToUpper(string(dest.Network))
		body["account_number"] = dest.Phone
		body["beneficiary_name"] = firstNonEmpty(dest.Beneficiary, dest.Phone)
	default:
		body["account_bank"] = dest.BankCode
		body["account_number"] = dest.AccountNumber
		body["beneficiary_name"] = dest.Beneficiary
	}

	var data struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	if err := f.post(ctx, "/transfers", body, &data); err != nil {
		return nil, err
	}
	return &PayoutHandle{GatewayRef: data.ID.String(), Status: data.Status}, nil
}

type flwCharge struct {
	ID              json.Number     `json:"id"`
	TxRef           string          `json:"tx_ref"`
	FlwRef          string          `json:"flw_ref"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	ProcessorReason string          `json:"processor_response"`
}

type flwTransfer struct {
	ID              json.Number     `json:"id"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	CompleteMessage string          `json:"complete_message"`
}

// VerifyPayment reads a charge by tx_ref or a transfer by its id.
func (f *Flutterwave) VerifyPayment(ctx context.Context, req VerifyRequest) (Event, error) {
	if req.Payout {
		if req.GatewayRef == "" {
			return Event{}, fmt.Errorf("flutterwave: transfer %s has no gateway id yet: %w", req.Reference, ErrNotSettled)
		}
		var t flwTransfer
		if err := f.get(ctx, "/transfers/"+url.PathEscape(req.GatewayRef), nil, &t); err != nil {
			return Event{}, err
		}
		ev := Event{
			ID:         fmt.Sprintf("flw:verify:transfer:%s:%s", t.ID.String(), strings.ToLower(t.Status)),
			Reference:  firstNonEmpty(t.Reference, req.Reference),
			GatewayRef: t.ID.String(),
			Amount:     t.Amount,
			Currency:   t.Currency,
		}
		switch strings.ToLower(t.Status) {
		case "successful":
			ev.Kind = PayoutSucceeded
		case "failed":
			ev.Kind = PayoutFailed
			ev.FailureReason = firstNonEmpty(t.CompleteMessage, "transfer failed")
		default:
			return Event{}, fmt.Errorf("flutterwave: transfer %s is %s: %w", req.Reference, t.Status, ErrNotSettled)
		}
		return ev, nil
	}

	var c flwCharge
	if err := f.get(ctx, "/transactions/verify_by_reference", url.Values{"tx_ref": {req.Reference}}, &c); err != nil {
		return Event{}, err
	}
	ev := Event{
		ID:         fmt.Sprintf("flw:verify:charge:%s:%s", c.ID.String(), strings.ToLower(c.Status)),
		Reference:  firstNonEmpty(c.TxRef, req.Reference),
		GatewayRef: c.FlwRef,
		Amount:     c.Amount,
		Currency:   c.Currency,
	}
	switch strings.ToLower(c.Status) {
	case "successful":
		ev.Kind = PaymentSucceeded
	case "failed", "cancelled":
		ev.Kind = PaymentFailed
		ev.FailureReason = firstNonEmpty(c.ProcessorReason, "payment failed")
	default:
		return Event{}, fmt.Errorf("flutterwave: charge %s is %s: %w", req.Reference, c.Status, ErrNotSettled)
	}
	return ev, nil
}

func (f *Flutterwave) post(ctx context.Context, path string, body interface{}, dest interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode flutterwave request: %w", err)
	}
	return f.do(ctx, http.MethodPost, path, bytes.NewReader(payload), dest)
}

func (f *Flutterwave) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return f.do(ctx, http.MethodGet, path, nil, dest)
}

func (f *Flutterwave) do(ctx context.Context, method, path string, body io.Reader, dest interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build flutterwave request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+f.secretKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("flutterwave %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("flutterwave %s: read body: %w", path, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("flutterwave %s: upstream status %d", path, resp.StatusCode)
	}

	var env flwEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("flutterwave %s: decode response: %w", path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest || env.Status != "success" {
		reason := env.Message
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return &RejectedError{Reason: reason}
	}
	if dest != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return fmt.Errorf("flutterwave %s: decode data: %w", path, err)
		}
	}
	return nil
}

// Sign returns the verif-hash value for payload.
func (f *Flutterwave) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

type flwWebhook struct {
	Event string `json:"event"`
	Data  struct {
		ID              json.Number     `json:"id"`
		TxRef           string          `json:"tx_ref"`
		Reference       string          `json:"reference"`
		FlwRef          string          `json:"flw_ref"`
		Amount          decimal.Decimal `json:"amount"`
		Currency        string          `json:"currency"`
		Status          string          `json:"status"`
		ProcessorReason string          `json:"processor_response"`
		CompleteMessage string          `json:"complete_message"`
		FailureReason   string          `json:"failure_reason"`
	} `json:"data"`
}

func (f *Flutterwave) ParseWebhook(payload []byte, signature string) (Event, error) {
	expected := f.Sign(payload)
	if signature == "" || !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return Event{}, apperrors.ErrInvalidSignature
	}
	if err := f.validator.Validate(payload); err != nil {
		return Event{}, err
	}

	var hook flwWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	status := strings.ToLower(hook.Data.Status)
	ev := Event{
		ID:       fmt.Sprintf("flw:%s:%s:%s", hook.Event, hook.Data.ID.String(), status),
		Amount:   hook.Data.Amount,
		Currency: hook.Data.Currency,
	}

	switch hook.Event {
	case "charge.completed", "charge.failed":
		ev.Reference = hook.Data.TxRef
		ev.GatewayRef = hook.Data.FlwRef
		if hook.Event == "charge.completed" && status == "successful" {
			ev.Kind = PaymentSucceeded
		} else {
			ev.Kind = PaymentFailed
			ev.FailureReason = firstNonEmpty(hook.Data.FailureReason, hook.Data.ProcessorReason, "payment failed")
		}
	case "transfer.completed", "transfer.failed":
		ev.Reference = hook.Data.Reference
		ev.GatewayRef = hook.Data.ID.String()
		if hook.Event == "transfer.completed" && status == "successful" {
			ev.Kind = PayoutSucceeded
		} else {
			ev.Kind = PayoutFailed
			ev.FailureReason = firstNonEmpty(hook.Data.FailureReason, hook.Data.CompleteMessage, "transfer failed")
		}
	default:
		return Event{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, hook.Event)
	}

	if ev.Reference == "" {
		return Event{}, fmt.Errorf("%w: missing reference", ErrInvalidPayload)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
