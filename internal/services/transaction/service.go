package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/services/gateway"
	"caredit/internal/services/limits"
	"caredit/internal/services/notification"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AccountCache keeps read-side account snapshots. Optional.
type AccountCache interface {
	GetAccount(ctx context.Context, userID uint) (*models.Account, error)
	// AccountGeneration changes on every InvalidateAccount.
	AccountGeneration(ctx context.Context, userID uint) (int64, error)
	// CacheAccount drops the snapshot if the generation moved past gen.
	CacheAccount(ctx context.Context, account *models.Account, gen int64) error
	InvalidateAccount(ctx context.Context, userID uint) error
}

type Config struct {
	Fees            FeeSchedule
	DefaultCurrency string
	RedirectURL     string
	Now             func() time.Time
}

// Result is a transaction as it stands after an operation, with the
// account balance read in the same unit of work.
type Result struct {
	Transaction *models.Transaction    `json:"transaction"`
	NewBalance  decimal.Decimal        `json:"balance"`
	Payment     *gateway.PaymentHandle `json:"payment,omitempty"`
	// Replayed is set when the reference already existed and nothing moved.
	Replayed bool `json:"replayed,omitempty"`
}

type Service struct {
	store     repositories.LedgerStore
	evaluator *limits.Evaluator
	gateway   gateway.Gateway
	cache     AccountCache
	notifier  notification.Emitter
	logger    *zap.Logger
	config    Config
}

// NewService wires the coordinator. gw, cache and notifier may be nil:
// without a gateway every gateway-settled intent fails with
// ErrGatewayUnreachable.
func NewService(
	store repositories.LedgerStore,
	evaluator *limits.Evaluator,
	gw gateway.Gateway,
	cache AccountCache,
	notifier notification.Emitter,
	logger *zap.Logger,
	config Config,
) *Service {
	if store == nil {
		panic("store is required")
	}
	if evaluator == nil {
		panic("evaluator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notification.NewLogEmitter(logger)
	}
	if config.Fees == nil {
		config.Fees = DefaultFeeSchedule()
	}
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "XOF"
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Service{
		store:     store,
		evaluator: evaluator,
		gateway:   gw,
		cache:     cache,
		notifier:  notifier,
		logger:    logger.Named("transaction"),
		config:    config,
	}
}

// Execute runs an intent to completion or to its gateway-pending state.
func (s *Service) Execute(ctx context.Context, in Intent) (*Result, error) {
	switch in := in.(type) {
	case DebitIntent:
		return s.executeDebit(ctx, in)
	case DepositIntent:
		return s.executeDeposit(ctx, in)
	default:
		return nil, apperrors.NewValidationError("intent", fmt.Sprintf("unsupported intent %T", in))
	}
}

// Get returns a transaction owned by userID.
func (s *Service) Get(ctx context.Context, id, userID uint) (*models.Transaction, error) {
	var tx *models.Transaction
	err := s.store.Read(ctx, func(l repositories.Ledger) error {
		found, err := l.Transactions().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if found.UserID != userID {
			return fmt.Errorf("transaction %d: %w", id, apperrors.ErrNotFound)
		}
		tx = found
		return nil
	})
	return tx, err
}

// Balance returns the account snapshot, from cache when possible.
func (s *Service) Balance(ctx context.Context, userID uint) (*models.Account, error) {
	cacheable := false
	var gen int64
	if s.cache != nil {
		if cached, err := s.cache.GetAccount(ctx, userID); err != nil {
			s.logger.Warn("account cache read failed", zap.Uint("user_id", userID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
		// taken before the store read so a concurrent commit voids the write-back
		var err error
		if gen, err = s.cache.AccountGeneration(ctx, userID); err != nil {
			s.logger.Warn("account cache generation read failed", zap.Uint("user_id", userID), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	var account *models.Account
	err := s.store.Read(ctx, func(l repositories.Ledger) error {
		var err error
		account, err = l.Accounts().GetByUserID(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if cacheable {
		if err := s.cache.CacheAccount(ctx, account, gen); err != nil {
			s.logger.Warn("account cache write failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	return account, nil
}

// OpenAccount creates the user's account if it does not exist yet.
func (s *Service) OpenAccount(ctx context.Context, userID uint, currency string) (*models.Account, error) {
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	var account *models.Account
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		existing, err := l.Accounts().GetByUserID(ctx, userID)
		if err == nil {
			account = existing
			return nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		account = &models.Account{UserID: userID, Balance: decimal.Zero, Currency: currency}
		return l.Accounts().Create(ctx, account)
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// afterCommit refreshes read models and emits a notification when tx
// reached a terminal status. Failures are logged only.
func (s *Service) afterCommit(ctx context.Context, tx *models.Transaction) {
	InvalidateAndNotify(ctx, s.cache, s.notifier, s.logger, tx, s.config.Now())
}

// InvalidateAndNotify is shared with the reconciliation worker.
func InvalidateAndNotify(ctx context.Context, cache AccountCache, notifier notification.Emitter, logger *zap.Logger, tx *models.Transaction, at time.Time) {
	if cache != nil {
		if err := cache.InvalidateAccount(ctx, tx.UserID); err != nil {
			logger.Warn("account cache invalidation failed", zap.Uint("user_id", tx.UserID), zap.Error(err))
		}
	}
	if notifier != nil && tx.Status.Terminal() {
		if err := notifier.Emit(ctx, notification.FromTransaction(tx, at)); err != nil {
			logger.Warn("notification failed", zap.String("reference", tx.Reference), zap.Error(err))
		}
	}
}

// fingerprint is what a reused reference must carry to count as a retry
// of the original request.
type fingerprint struct {
	Type   models.TransactionType
	Amount decimal.Decimal
	CardID *uint
}

func (f fingerprint) matches(tx *models.Transaction) bool {
	if tx.Type != f.Type || !tx.Amount.Equal(f.Amount) {
		return false
	}
	if f.CardID == nil || tx.CardID == nil {
		return f.CardID == nil && tx.CardID == nil
	}
	return *f.CardID == *tx.CardID
}

// replay looks up a client-supplied reference. It returns the existing
// record for a retry of the same request by userID, ErrDuplicateReference
// when the reference belongs to someone else or to a different request,
// and nil, nil when it is free.
func replay(ctx context.Context, l repositories.Ledger, reference string, userID uint, want fingerprint) (*models.Transaction, error) {
	if reference == "" {
		return nil, nil
	}
	existing, err := l.Transactions().GetByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.UserID != userID {
		return nil, fmt.Errorf("reference %s: %w", reference, apperrors.ErrDuplicateReference)
	}
	if !want.matches(existing) {
		return nil, fmt.Errorf("reference %s already used for a %s of %s: %w",
			reference, existing.Type, existing.Amount.StringFixed(2), apperrors.ErrDuplicateReference)
	}
	return existing, nil
}
