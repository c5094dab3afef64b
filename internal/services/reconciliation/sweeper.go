package reconciliation

import (
	"context"
	"time"

	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/services/notification"
	"caredit/internal/services/transaction"

	"go.uber.org/zap"
)

type SweeperConfig struct {
	Interval        time.Duration
	PendingTTL      time.Duration
	PayoutStaleness time.Duration
	BatchSize       int
}

// Sweeper fails gateway deposits that were never confirmed. Stale payouts
// are reported only: their money may already have left. With a verifier,
// both are first looked up at the gateway and settled when it has a final
// answer.
type Sweeper struct {
	store    repositories.LedgerStore
	cache    transaction.AccountCache
	notifier notification.Emitter
	verifier *Worker
	logger   *zap.Logger
	config   SweeperConfig
	now      func() time.Time
}

type SweeperOption func(*Sweeper)

// WithVerifier asks the gateway through w before expiring or reporting.
func WithVerifier(w *Worker) SweeperOption {
	return func(s *Sweeper) { s.verifier = w }
}

type SweepReport struct {
	Expired      int
	StalePayouts int
	Verified     int
}

func NewSweeper(store repositories.LedgerStore, cache transaction.AccountCache, notifier notification.Emitter, logger *zap.Logger, cfg SweeperConfig, opts ...SweeperOption) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = 24 * time.Hour
	}
	if cfg.PayoutStaleness <= 0 {
		cfg.PayoutStaleness = 6 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	s := &Sweeper{
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger.Named("sweeper"),
		config:   cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", zap.Duration("interval", s.config.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	var expired, stale []models.Transaction
	err := s.store.Read(ctx, func(l repositories.Ledger) error {
		var err error
		expired, err = l.Transactions().ListPending(ctx, repositories.PendingQuery{
			Types:      []models.TransactionType{models.TransactionTypeDeposit, models.TransactionTypeRecharge},
			Settlement: models.SettlementGateway,
			Before:     now.Add(-s.config.PendingTTL),
			Limit:      s.config.BatchSize,
		})
		if err != nil {
			return err
		}
		stale, err = l.Transactions().ListPending(ctx, repositories.PendingQuery{
			Types:      models.DebitTypes,
			Settlement: models.SettlementGateway,
			Before:     now.Add(-s.config.PayoutStaleness),
			Limit:      s.config.BatchSize,
		})
		return err
	})
	if err != nil {
		return report, err
	}

	for i := range expired {
		if s.settledByGateway(ctx, &expired[i]) {
			report.Verified++
			continue
		}
		ok, err := s.expire(ctx, expired[i].ID)
		if err != nil {
			s.logger.Error("failed to expire deposit", zap.String("reference", expired[i].Reference), zap.Error(err))
			continue
		}
		if ok {
			report.Expired++
		}
	}

	for i := range stale {
		tx := stale[i]
		if s.settledByGateway(ctx, &tx) {
			report.Verified++
			continue
		}
		report.StalePayouts++
		s.logger.Warn("payout pending past staleness threshold",
			zap.String("reference", tx.Reference),
			zap.String("gateway_ref", tx.GatewayRef),
			zap.Duration("age", now.Sub(tx.CreatedAt)),
		)
	}

	if report.Expired > 0 || report.StalePayouts > 0 || report.Verified > 0 {
		s.logger.Info("sweep finished",
			zap.Int("expired", report.Expired),
			zap.Int("stale_payouts", report.StalePayouts),
			zap.Int("verified", report.Verified),
		)
	}
	return report, nil
}

// settledByGateway reports whether the gateway had a final answer for tx
// and it was applied. Lookup failures fall through to the time-based rule.
func (s *Sweeper) settledByGateway(ctx context.Context, tx *models.Transaction) bool {
	if s.verifier == nil {
		return false
	}
	ack, err := s.verifier.verify(ctx, tx)
	if err != nil {
		s.logger.Warn("gateway verification failed", zap.String("reference", tx.Reference), zap.Error(err))
		return false
	}
	return ack.Outcome == OutcomeApplied || ack.Outcome == OutcomeDuplicate
}

func (s *Sweeper) expire(ctx context.Context, id uint) (bool, error) {
	var tx *models.Transaction
	err := s.store.Atomic(ctx, func(l repositories.Ledger) error {
		locked, err := l.Transactions().LockByID(ctx, id)
		if err != nil {
			return err
		}
		// settled by a webhook since the listing
		if locked.Status != models.StatusPending {
			return nil
		}
		if _, err := transaction.Apply(ctx, l, locked, models.StatusFailed, "payment expired"); err != nil {
			return err
		}
		tx = locked
		return nil
	})
	if err != nil || tx == nil {
		return false, err
	}
	transaction.InvalidateAndNotify(ctx, s.cache, s.notifier, s.logger, tx, s.now())
	return true, nil
}
