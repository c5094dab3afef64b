package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	apperrors "caredit/internal/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Name() string            { return "mock" }
func (m *mockGateway) SignatureHeader() string { return "X-Mock-Signature" }

func (m *mockGateway) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error) {
	args := m.Called(ctx, req)
	if h := args.Get(0); h != nil {
		return h.(*PaymentHandle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutHandle, error) {
	args := m.Called(ctx, req)
	if h := args.Get(0); h != nil {
		return h.(*PayoutHandle), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockGateway) VerifyPayment(ctx context.Context, req VerifyRequest) (Event, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Event), args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(Event), args.Error(1)
}

func TestBreaker_PassesResultsThrough(t *testing.T) {
	gw := &mockGateway{}
	gw.On("InitializePayment", mock.Anything, mock.Anything).Return(&PaymentHandle{PaymentLink: "https://pay"}, nil)

	b := NewBreaker(gw, BreakerConfig{}, zap.NewNop())
	handle, err := b.InitializePayment(context.Background(), PaymentRequest{Reference: "DEP-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://pay", handle.PaymentLink)
	gw.AssertExpectations(t)
}

func TestBreaker_RejectionDoesNotTrip(t *testing.T) {
	gw := &mockGateway{}
	gw.On("InitiatePayout", mock.Anything, mock.Anything).Return(nil, &RejectedError{Reason: "invalid account"})

	b := NewBreaker(gw, BreakerConfig{ConsecutiveFailures: 2}, zap.NewNop())
	for i := 0; i < 5; i++ {
		_, err := b.InitiatePayout(context.Background(), PayoutRequest{Reference: "WTH-1"})
		assert.True(t, IsRejected(err))
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_NotSettledDoesNotTrip(t *testing.T) {
	gw := &mockGateway{}
	gw.On("VerifyPayment", mock.Anything, mock.Anything).Return(Event{}, fmt.Errorf("charge is pending: %w", ErrNotSettled))

	b := NewBreaker(gw, BreakerConfig{ConsecutiveFailures: 2}, zap.NewNop())
	for i := 0; i < 4; i++ {
		_, err := b.VerifyPayment(context.Background(), VerifyRequest{Reference: "DEP-1"})
		assert.ErrorIs(t, err, ErrNotSettled)
		assert.NotErrorIs(t, err, apperrors.ErrGatewayUnreachable)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	gw := &mockGateway{}
	gw.On("InitiatePayout", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	b := NewBreaker(gw, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := b.InitiatePayout(context.Background(), PayoutRequest{Reference: "WTH-1"})
		assert.ErrorIs(t, err, apperrors.ErrGatewayUnreachable)
	}
	assert.Equal(t, "open", b.State())

	_, err := b.InitiatePayout(context.Background(), PayoutRequest{Reference: "WTH-1"})
	assert.ErrorIs(t, err, apperrors.ErrGatewayUnreachable)
	gw.AssertNumberOfCalls(t, "InitiatePayout", 2)
}

func TestBreaker_Timeout(t *testing.T) {
	gw := &mockGateway{}
	gw.On("InitializePayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	b := NewBreaker(gw, BreakerConfig{Timeout: 20 * time.Millisecond}, zap.NewNop())
	_, err := b.InitializePayment(context.Background(), PaymentRequest{Reference: "DEP-1", Amount: d("10")})
	assert.ErrorIs(t, err, apperrors.ErrGatewayTimeout)
}
