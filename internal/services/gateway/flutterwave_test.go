package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "caredit/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFlutterwave(t *testing.T, baseURL string) *Flutterwave {
	t.Helper()
	flw, err := NewFlutterwave(FlutterwaveConfig{
		BaseURL:       baseURL,
		SecretKey:     "FLWSECK_TEST-123",
		WebhookSecret: "test_secret",
	})
	require.NoError(t, err)
	return flw
}

func TestFlutterwave_ParseWebhook(t *testing.T) {
	flw := newTestFlutterwave(t, "http://unused")

	tests := []struct {
		name      string
		payload   string
		signature func(payload []byte) string
		wantKind  EventKind
		wantRef   string
		wantErr   error
	}{
		{
			name:      "charge completed",
			payload:   `{"event":"charge.completed","data":{"id":123456,"tx_ref":"R1","flw_ref":"FLW-1","amount":5000,"currency":"XOF","status":"successful"}}`,
			signature: flw.Sign,
			wantKind:  PaymentSucceeded,
			wantRef:   "R1",
		},
		{
			name:      "charge completed but failed status",
			payload:   `{"event":"charge.completed","data":{"id":1,"tx_ref":"R2","amount":5000,"currency":"XOF","status":"failed","processor_response":"declined"}}`,
			signature: flw.Sign,
			wantKind:  PaymentFailed,
			wantRef:   "R2",
		},
		{
			name:      "transfer failed",
			payload:   `{"event":"transfer.failed","data":{"id":77,"reference":"WTH-1","amount":"1000.00","currency":"XOF","status":"FAILED","complete_message":"insufficient merchant balance"}}`,
			signature: flw.Sign,
			wantKind:  PayoutFailed,
			wantRef:   "WTH-1",
		},
		{
			name:      "transfer completed",
			payload:   `{"event":"transfer.completed","data":{"id":78,"reference":"WTH-2","amount":1000,"currency":"XOF","status":"SUCCESSFUL"}}`,
			signature: flw.Sign,
			wantKind:  PayoutSucceeded,
			wantRef:   "WTH-2",
		},
		{
			name:      "bad signature",
			payload:   `{"event":"charge.completed","data":{"id":1,"tx_ref":"R1","amount":5000,"currency":"XOF","status":"successful"}}`,
			signature: func([]byte) string { return "deadbeef" },
			wantErr:   apperrors.ErrInvalidSignature,
		},
		{
			name:      "missing signature",
			payload:   `{}`,
			signature: func([]byte) string { return "" },
			wantErr:   apperrors.ErrInvalidSignature,
		},
		{
			name:      "shape rejected by schema",
			payload:   `{"event":"charge.completed","data":{"id":1,"amount":5000,"currency":"XOF","status":"successful"}}`,
			signature: flw.Sign,
			wantErr:   ErrInvalidPayload,
		},
		{
			name:      "unknown event",
			payload:   `{"event":"subscription.cancelled","data":{"id":1,"tx_ref":"R1","amount":1,"currency":"XOF","status":"cancelled"}}`,
			signature: flw.Sign,
			wantErr:   ErrUnsupportedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte(tt.payload)
			ev, err := flw.ParseWebhook(payload, tt.signature(payload))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, ev.Kind)
			assert.Equal(t, tt.wantRef, ev.Reference)
			assert.NotEmpty(t, ev.ID)
			if !tt.wantKind.Success() {
				assert.NotEmpty(t, ev.FailureReason)
			}
		})
	}
}

func TestFlutterwave_SignatureIsHexHMAC(t *testing.T) {
	flw := newTestFlutterwave(t, "http://unused")
	sig := flw.Sign([]byte("hello"))
	assert.Equal(t, "25402e8a53eb60d19c604883f51d221f73db93e083682cb8dfd3c36d49224f6e", sig)
	assert.NotEqual(t, sig, flw.Sign([]byte("hello!")))

	_, err := flw.ParseWebhook([]byte("hello"), "25402E8A53EB60D19C604883F51D221F73DB93E083682CB8DFD3C36D49224F6E")
	assert.ErrorIs(t, err, ErrInvalidPayload, "uppercase hex is accepted, body is then rejected by the schema")
}

func TestFlutterwave_InitializePayment(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.Equal(t, "Bearer FLWSECK_TEST-123", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"status":"success","message":"Hosted Link","data":{"link":"https://checkout.flutterwave.com/v3/hosted/pay/abc"}}`))
	}))
	defer srv.Close()

	flw := newTestFlutterwave(t, srv.URL)
	handle, err := flw.InitializePayment(context.Background(), PaymentRequest{
		Reference: "DEP-1",
		Amount:    decimal.NewFromInt(5000),
		Currency:  "XOF",
		Email:     "a@b.c",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.flutterwave.com/v3/hosted/pay/abc", handle.PaymentLink)
	assert.Equal(t, "DEP-1", got["tx_ref"])
	assert.Equal(t, "5000.00", got["amount"])
}

func TestFlutterwave_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantRejected bool
	}{
		{name: "explicit rejection", status: http.StatusBadRequest, body: `{"status":"error","message":"Invalid account"}`, wantRejected: true},
		{name: "error envelope with 200", status: http.StatusOK, body: `{"status":"error","message":"Duplicate reference"}`, wantRejected: true},
		{name: "upstream outage", status: http.StatusBadGateway, body: `oops`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			flw := newTestFlutterwave(t, srv.URL)
			_, err := flw.InitiatePayout(context.Background(), PayoutRequest{
				Reference:   "WTH-1",
				Amount:      decimal.NewFromInt(1000),
				Currency:    "XOF",
				Destination: PayoutDestination{BankCode: "044", AccountNumber: "0690000031"},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, IsRejected(err))
		})
	}
}

func TestFlutterwave_InitiatePayout(t *testing.T) {
	tests := []struct {
		name        string
		destination PayoutDestination
		wantBank    string
		wantAccount string
		wantName    string
	}{
		{
			name:        "bank account",
			destination: BankAccount("044", "0690000031", "Awa Kone"),
			wantBank:    "044",
			wantAccount: "0690000031",
			wantName:    "Awa Kone",
		},
		{
			name:        "legacy bank shape without method",
			destination: PayoutDestination{BankCode: "058", AccountNumber: "0123456789"},
			wantBank:    "058",
			wantAccount: "0123456789",
		},
		{
			name:        "mtn mobile money",
			destination: MobileMoney(NetworkMTN, "+2250700000001", "Yao"),
			wantBank:    "MTN",
			wantAccount: "+2250700000001",
			wantName:    "Yao",
		},
		{
			name:        "orange mobile money names the phone when no beneficiary",
			destination: MobileMoney(NetworkOrange, "+2250700000002", ""),
			wantBank:    "ORANGE",
			wantAccount: "+2250700000002",
			wantName:    "+2250700000002",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transfers", r.URL.Path)
				body, _ := io.ReadAll(r.Body)
				require.NoError(t, json.Unmarshal(body, &got))
				_, _ = w.Write([]byte(`{"status":"success","message":"Transfer Queued","data":{"id":26251,"status":"NEW"}}`))
			}))
			defer srv.Close()

			flw := newTestFlutterwave(t, srv.URL)
			handle, err := flw.InitiatePayout(context.Background(), PayoutRequest{
				Reference:   "WTH-1",
				Amount:      decimal.NewFromInt(1000),
				Currency:    "XOF",
				Destination: tt.destination,
			})
			require.NoError(t, err)
			assert.Equal(t, "26251", handle.GatewayRef)
			assert.Equal(t, "NEW", handle.Status)
			assert.Equal(t, tt.wantBank, got["account_bank"])
			assert.Equal(t, tt.wantAccount, got["account_number"])
			assert.Equal(t, tt.wantName, got["beneficiary_name"])
			assert.Equal(t, "WTH-1", got["reference"])
		})
	}
}

func TestFlutterwave_InitiatePayoutRejectsMalformedDestination(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	flw := newTestFlutterwave(t, srv.URL)
	_, err := flw.InitiatePayout(context.Background(), PayoutRequest{
		Reference:   "WTH-1",
		Amount:      decimal.NewFromInt(1000),
		Currency:    "XOF",
		Destination: PayoutDestination{Method: PayoutMobileMoney, Network: "wave", Phone: "+2250700000001"},
	})
	assert.True(t, IsRejected(err))
	assert.False(t, called)
}

func TestPayoutDestination_Validate(t *testing.T) {
	tests := []struct {
		name    string
		dest    PayoutDestination
		wantErr bool
	}{
		{name: "bank", dest: BankAccount("044", "0690000031", "Awa")},
		{name: "bank without account", dest: BankAccount("044", "", "Awa"), wantErr: true},
		{name: "bank with phone", dest: PayoutDestination{AccountNumber: "1", Phone: "+225"}, wantErr: true},
		{name: "moov", dest: MobileMoney(NetworkMoov, "+2290100000000", "")},
		{name: "mobile money without phone", dest: MobileMoney(NetworkMTN, " ", ""), wantErr: true},
		{name: "unknown network", dest: MobileMoney("wave", "+221", ""), wantErr: true},
		{name: "mobile money with bank account", dest: PayoutDestination{Method: PayoutMobileMoney, Network: NetworkMTN, Phone: "+225", AccountNumber: "1"}, wantErr: true},
		{name: "unknown method", dest: PayoutDestination{Method: "cheque"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dest.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFlutterwave_VerifyPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		switch {
		case r.URL.Path == "/transactions/verify_by_reference" && r.URL.Query().Get("tx_ref") == "DEP-OK":
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":9,"tx_ref":"DEP-OK","flw_ref":"FLW-9","amount":5000,"currency":"XOF","status":"successful"}}`))
		case r.URL.Path == "/transactions/verify_by_reference" && r.URL.Query().Get("tx_ref") == "DEP-WAIT":
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":10,"tx_ref":"DEP-WAIT","amount":5000,"currency":"XOF","status":"pending"}}`))
		case r.URL.Path == "/transactions/verify_by_reference":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"status":"error","message":"No transaction was found for this id"}`))
		case r.URL.Path == "/transfers/4242":
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":4242,"reference":"WTH-1","amount":1000,"currency":"XOF","status":"FAILED","complete_message":"Account resolved failed"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	flw := newTestFlutterwave(t, srv.URL)
	ctx := context.Background()

	ev, err := flw.VerifyPayment(ctx, VerifyRequest{Reference: "DEP-OK"})
	require.NoError(t, err)
	assert.Equal(t, PaymentSucceeded, ev.Kind)
	assert.Equal(t, "DEP-OK", ev.Reference)
	assert.Equal(t, "FLW-9", ev.GatewayRef)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "XOF", ev.Currency)

	_, err = flw.VerifyPayment(ctx, VerifyRequest{Reference: "DEP-WAIT"})
	assert.ErrorIs(t, err, ErrNotSettled)

	_, err = flw.VerifyPayment(ctx, VerifyRequest{Reference: "DEP-NONE"})
	assert.True(t, IsRejected(err))

	ev, err = flw.VerifyPayment(ctx, VerifyRequest{Reference: "WTH-1", GatewayRef: "4242", Payout: true})
	require.NoError(t, err)
	assert.Equal(t, PayoutFailed, ev.Kind)
	assert.Equal(t, "Account resolved failed", ev.FailureReason)

	_, err = flw.VerifyPayment(ctx, VerifyRequest{Reference: "WTH-2", Payout: true})
	assert.ErrorIs(t, err, ErrNotSettled)
}
