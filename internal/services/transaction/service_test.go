package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/repositories/memory"
	"caredit/internal/services/gateway"
	"caredit/internal/services/limits"
	"caredit/internal/services/notification"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 3, 15, 14, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockGateway struct{ mock.Mock }

func (m *mockGateway) Name() string            { return "mock" }
func (m *mockGateway) SignatureHeader() string { return "X-Mock-Signature" }

func (m *mockGateway) InitializePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentHandle, error) {
	args := m.Called(ctx, req)
	h, _ := args.Get(0).(*gateway.PaymentHandle)
	return h, args.Error(1)
}

func (m *mockGateway) InitiatePayout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutHandle, error) {
	args := m.Called(ctx, req)
	h, _ := args.Get(0).(*gateway.PayoutHandle)
	return h, args.Error(1)
}

func (m *mockGateway) VerifyPayment(ctx context.Context, req gateway.VerifyRequest) (gateway.Event, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(gateway.Event), args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signature string) (gateway.Event, error) {
	args := m.Called(payload, signature)
	return args.Get(0).(gateway.Event), args.Error(1)
}

type recorder struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (r *recorder) Emit(_ context.Context, n notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Event)
	}
	return out
}

type fixture struct {
	store    *memory.LedgerStore
	gw       *mockGateway
	notified *recorder
	svc      *Service
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	f := &fixture{
		store:    memory.NewLedgerStore(memory.WithClock(clock)),
		gw:       &mockGateway{},
		notified: &recorder{},
	}
	evaluator := limits.NewEvaluator(limits.Defaults{}, limits.WithClock(clock))
	f.svc = NewService(f.store, evaluator, f.gw, nil, f.notified, zap.NewNop(), Config{Now: clock})

	ctx := context.Background()
	require.NoError(t, f.store.Atomic(ctx, func(l repositories.Ledger) error {
		return l.Accounts().Create(ctx, &models.Account{UserID: 1, Balance: d(balance)})
	}))
	return f
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	account, err := f.svc.Balance(context.Background(), 1)
	require.NoError(t, err)
	return account.Balance
}

func transfer(amount string) DebitIntent {
	return DebitIntent{
		UserID:         1,
		Type:           models.TransactionTypeTransfer,
		Amount:         d(amount),
		RecipientPhone: "+22500000000",
	}
}

func withdrawal(amount string) DebitIntent {
	return DebitIntent{
		UserID: 1,
		Type:   models.TransactionTypeWithdrawal,
		Amount: d(amount),
		Payout: &gateway.PayoutDestination{BankCode: "044", AccountNumber: "0690000031", Beneficiary: "Awa"},
	}
}

func TestExecute_TransferDebitsAmountPlusFee(t *testing.T) {
	f := newFixture(t, "100000")

	res, err := f.svc.Execute(context.Background(), transfer("25000"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, res.Transaction.Status)
	assert.True(t, res.Transaction.Fees.Equal(d("50")))
	assert.True(t, res.NewBalance.Equal(d("74950")), "got %s", res.NewBalance)
	assert.True(t, f.balance(t).Equal(d("74950")))
	assert.Regexp(t, `^TRF-[0-9A-F-]{36}$`, res.Transaction.Reference)
	assert.Equal(t, []string{"transaction.completed"}, f.notified.events())
}

func TestExecute_InsufficientBalance(t *testing.T) {
	f := newFixture(t, "1000")

	_, err := f.svc.Execute(context.Background(), transfer("990"))

	var insufficient *apperrors.InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, f.balance(t).Equal(d("1000")))
}

func TestExecute_LimitViolationLeavesBalance(t *testing.T) {
	f := newFixture(t, "10000000")

	_, err := f.svc.Execute(context.Background(), transfer("600000"))

	var exceeded *apperrors.LimitExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, apperrors.WindowSingle, exceeded.Window)
	assert.True(t, f.balance(t).Equal(d("10000000")))
}

func TestExecute_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, "1000")
	zero := decimal.Zero

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, amount := range []string{"700", "600"} {
		wg.Add(1)
		go func(i int, amount string) {
			defer wg.Done()
			in := transfer(amount)
			in.Fees = &zero
			_, errs[i] = f.svc.Execute(context.Background(), in)
		}(i, amount)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *apperrors.InsufficientBalanceError
		assert.ErrorAs(t, err, &insufficient)
	}
	assert.Equal(t, 1, succeeded)

	final := f.balance(t)
	assert.True(t, final.Equal(d("300")) || final.Equal(d("400")), "got %s", final)
}

func TestExecute_ReplaysSameReference(t *testing.T) {
	f := newFixture(t, "100000")
	in := transfer("1000")
	in.Reference = "client-key-1"

	first, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	second, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.True(t, f.balance(t).Equal(d("98950")))
}

func TestExecute_ReferenceOwnedByAnotherUser(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()
	require.NoError(t, f.store.Atomic(ctx, func(l repositories.Ledger) error {
		return l.Accounts().Create(ctx, &models.Account{UserID: 2, Balance: d("5000")})
	}))
	in := transfer("1000")
	in.Reference = "shared"
	_, err := f.svc.Execute(ctx, in)
	require.NoError(t, err)

	in.UserID = 2
	_, err = f.svc.Execute(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)
}

func TestExecute_ReferenceReusedForDifferentRequest(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()
	first := transfer("100")
	first.Reference = "k-1"
	_, err := f.svc.Execute(ctx, first)
	require.NoError(t, err)

	cases := map[string]DebitIntent{
		"other type":   {UserID: 1, Type: models.TransactionTypePayment, Amount: d("100"), Reference: "k-1"},
		"other amount": {UserID: 1, Type: models.TransactionTypeTransfer, Amount: d("90000"), Reference: "k-1"},
		"with a card":  {UserID: 1, Type: models.TransactionTypeTransfer, Amount: d("100"), Reference: "k-1", CardID: new(uint)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			res, err := f.svc.Execute(ctx, in)
			assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)
			assert.Nil(t, res)
		})
	}

	w := withdrawal("90000")
	w.Reference = "k-1"
	_, err = f.svc.Execute(ctx, w)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)
	f.gw.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)
	assert.True(t, f.balance(t).Equal(d("99850")))
}

func TestExecute_InactiveCardRefused(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()
	card := &models.Card{UserID: 1, Status: models.CardStatusBlocked}
	require.NoError(t, f.store.Atomic(ctx, func(l repositories.Ledger) error {
		return l.Cards().Create(ctx, card)
	}))

	in := DebitIntent{UserID: 1, CardID: &card.ID, Type: models.TransactionTypePayment, Amount: d("100")}
	_, err := f.svc.Execute(ctx, in)
	assert.True(t, apperrors.IsValidation(err))
	assert.True(t, f.balance(t).Equal(d("100000")))
}

func TestExecute_PayoutStaysPendingUntilWebhook(t *testing.T) {
	f := newFixture(t, "100000")
	f.gw.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(&gateway.PayoutHandle{GatewayRef: "FLW-1", Status: "NEW"}, nil).Once()

	res, err := f.svc.Execute(context.Background(), withdrawal("20000"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, res.Transaction.Status)
	assert.Equal(t, models.SettlementGateway, res.Transaction.Settlement)
	assert.Equal(t, "FLW-1", res.Transaction.GatewayRef)
	assert.True(t, f.balance(t).Equal(d("79900")))
	assert.Empty(t, f.notified.events())
	f.gw.AssertExpectations(t)
}

func TestExecute_RejectedPayoutIsCompensated(t *testing.T) {
	f := newFixture(t, "100000")
	rejected := &gateway.RejectedError{Reason: "invalid account"}
	f.gw.On("InitiatePayout", mock.Anything, mock.Anything).Return(nil, rejected).Once()

	res, err := f.svc.Execute(context.Background(), withdrawal("20000"))
	require.ErrorIs(t, err, apperrors.ErrGatewayRejected)

	require.NotNil(t, res)
	assert.Equal(t, models.StatusFailed, res.Transaction.Status)
	assert.True(t, res.NewBalance.Equal(d("100000")))
	assert.True(t, f.balance(t).Equal(d("100000")))
	assert.Equal(t, []string{"transaction.failed"}, f.notified.events())
}

func TestExecute_UnknownPayoutOutcomeStaysPending(t *testing.T) {
	f := newFixture(t, "100000")
	f.gw.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(nil, apperrors.ErrGatewayTimeout).Once()

	res, err := f.svc.Execute(context.Background(), withdrawal("20000"))
	require.ErrorIs(t, err, apperrors.ErrGatewayTimeout)

	require.NotNil(t, res)
	assert.Equal(t, models.StatusPending, res.Transaction.Status)
	assert.True(t, f.balance(t).Equal(d("79900")))
}

func TestExecute_PayoutWithoutGateway(t *testing.T) {
	f := newFixture(t, "100000")
	f.svc.gateway = nil

	_, err := f.svc.Execute(context.Background(), withdrawal("20000"))
	assert.ErrorIs(t, err, apperrors.ErrGatewayUnreachable)
	assert.True(t, f.balance(t).Equal(d("100000")))
}

func TestExecute_DepositCreatesPendingWithLink(t *testing.T) {
	f := newFixture(t, "0")
	f.gw.On("InitializePayment", mock.Anything, mock.MatchedBy(func(req gateway.PaymentRequest) bool {
		return req.Amount.Equal(d("50000")) && req.UserID == 1
	})).Return(&gateway.PaymentHandle{GatewayRef: "pi_1", PaymentLink: "https://pay.example/1"}, nil).Once()

	res, err := f.svc.Execute(context.Background(), DepositIntent{
		UserID: 1,
		Type:   models.TransactionTypeDeposit,
		Amount: d("50000"),
		Email:  "awa@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, res.Transaction.Status)
	assert.Equal(t, "https://pay.example/1", res.Payment.PaymentLink)
	assert.Equal(t, "pi_1", res.Transaction.GatewayRef)
	assert.True(t, f.balance(t).IsZero())
}

func TestExecute_DepositReplayReturnsStoredLink(t *testing.T) {
	f := newFixture(t, "0")
	f.gw.On("InitializePayment", mock.Anything, mock.Anything).
		Return(&gateway.PaymentHandle{PaymentLink: "https://pay.example/2", ClientSecret: "pi_2_secret"}, nil).Once()
	in := DepositIntent{UserID: 1, Type: models.TransactionTypeDeposit, Amount: d("5000"), Reference: "DEP-KEY-1"}

	first, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, first.Payment)

	again, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	require.NotNil(t, again.Payment, "a retried deposit gets its checkout back")
	assert.Equal(t, "https://pay.example/2", again.Payment.PaymentLink)
	assert.Equal(t, "pi_2_secret", again.Payment.ClientSecret)
	f.gw.AssertNumberOfCalls(t, "InitializePayment", 1)

	in.Amount = d("6000")
	_, err = f.svc.Execute(context.Background(), in)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateReference)
}

func TestExecute_RejectedDepositIsFailed(t *testing.T) {
	f := newFixture(t, "0")
	f.gw.On("InitializePayment", mock.Anything, mock.Anything).
		Return(nil, &gateway.RejectedError{Reason: "currency not supported"}).Once()

	res, err := f.svc.Execute(context.Background(), DepositIntent{UserID: 1, Type: models.TransactionTypeDeposit, Amount: d("100")})
	require.ErrorIs(t, err, apperrors.ErrGatewayRejected)
	assert.Equal(t, models.StatusFailed, res.Transaction.Status)
	assert.True(t, f.balance(t).IsZero())
}

func TestExecute_ValidationErrors(t *testing.T) {
	f := newFixture(t, "100000")
	cases := map[string]Intent{
		"zero amount":     transfer("0"),
		"three decimals":  DebitIntent{UserID: 1, Type: models.TransactionTypeTransfer, Amount: d("10.005"), Currency: "EUR"},
		"centimes of XOF": transfer("100.50"),
		"centimes of XAF": DepositIntent{UserID: 1, Type: models.TransactionTypeDeposit, Amount: d("100.5"), Currency: "XAF"},
		"bad payout":      DebitIntent{UserID: 1, Type: models.TransactionTypeWithdrawal, Amount: d("10"), Payout: &gateway.PayoutDestination{Method: gateway.PayoutMobileMoney, Network: "wave"}},
		"credit as debit": DebitIntent{UserID: 1, Type: models.TransactionTypeDeposit, Amount: d("10")},
		"debit deposit":   DepositIntent{UserID: 1, Type: models.TransactionTypePayment, Amount: d("10")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Execute(context.Background(), in)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestExecute_TwoDecimalCurrencyKeepsCents(t *testing.T) {
	f := newFixture(t, "100000")
	in := DebitIntent{UserID: 1, Type: models.TransactionTypePayment, Amount: d("19.99"), Currency: "USD"}

	res, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(d("99980.01")))
}

func TestExecute_MobileMoneyPayout(t *testing.T) {
	f := newFixture(t, "100000")
	dest := gateway.MobileMoney(gateway.NetworkMTN, "+2250700000001", "")
	f.gw.On("InitiatePayout", mock.Anything, mock.MatchedBy(func(req gateway.PayoutRequest) bool {
		return req.Destination.Kind() == gateway.PayoutMobileMoney && req.Destination.Phone == "+2250700000001"
	})).Return(&gateway.PayoutHandle{GatewayRef: "FLW-7"}, nil).Once()

	in := withdrawal("5000")
	in.Payout = &dest
	res, err := f.svc.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Transaction.Status)
	f.gw.AssertExpectations(t)
}

func TestCancel_CompletedDebitRoundTrip(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()

	res, err := f.svc.Execute(ctx, transfer("25000"))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, res.Transaction.ID, 1, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Transaction.Status)
	assert.True(t, cancelled.NewBalance.Equal(d("100000")))

	again, err := f.svc.Cancel(ctx, res.Transaction.ID, 1, "")
	assert.True(t, IsIdempotentRepeat(err, models.StatusCancelled))
	assert.Equal(t, models.StatusCancelled, again.Transaction.Status)
	assert.True(t, f.balance(t).Equal(d("100000")))
}

func TestCancel_PendingPayoutRefused(t *testing.T) {
	f := newFixture(t, "100000")
	f.gw.On("InitiatePayout", mock.Anything, mock.Anything).Return(&gateway.PayoutHandle{GatewayRef: "FLW-2"}, nil)
	res, err := f.svc.Execute(context.Background(), withdrawal("1000"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), res.Transaction.ID, 1, "")
	var illegal *apperrors.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.False(t, IsIdempotentRepeat(err, models.StatusCancelled))
	assert.True(t, f.balance(t).Equal(d("98900")))
}

func TestCancel_OtherUsersTransactionIsNotFound(t *testing.T) {
	f := newFixture(t, "100000")
	res, err := f.svc.Execute(context.Background(), transfer("100"))
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), res.Transaction.ID, 2, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()
	_, err := f.svc.Execute(ctx, transfer("1000"))
	require.NoError(t, err)
	_, err = f.svc.Execute(ctx, transfer("3000"))
	require.NoError(t, err)

	sum, err := f.svc.Summary(ctx, 1, "day")
	require.NoError(t, err)
	assert.EqualValues(t, 2, sum.TotalTransactions)
	assert.True(t, sum.TotalAmount.Equal(d("4000")))
	assert.True(t, sum.TotalFees.Equal(d("100")))
	assert.True(t, sum.AverageAmount.Equal(d("2000")))
	require.Len(t, sum.ByType, 1)

	_, err = f.svc.Summary(ctx, 1, "decade")
	assert.True(t, apperrors.IsValidation(err))
}

func TestApply_StaleStatusRollsBack(t *testing.T) {
	f := newFixture(t, "100000")
	ctx := context.Background()
	res, err := f.svc.Execute(ctx, transfer("1000"))
	require.NoError(t, err)

	stale := *res.Transaction
	stale.Status = models.StatusPending
	stale.Settlement = models.SettlementGateway
	stale.Type = models.TransactionTypeWithdrawal
	err = f.store.Atomic(ctx, func(l repositories.Ledger) error {
		_, err := Apply(ctx, l, &stale, models.StatusFailed, "x")
		return err
	})
	assert.True(t, errors.Is(err, repositories.ErrStaleStatus))
	assert.True(t, f.balance(t).Equal(d("98950")))
}
