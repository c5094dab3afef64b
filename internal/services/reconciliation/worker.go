// Package reconciliation settles gateway-pending transactions from webhook
// events and expires the ones the gateway never confirmed.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/services/gateway"
	"caredit/internal/services/notification"
	"caredit/internal/services/transaction"

	"go.uber.org/zap"
)

// Outcome says what a webhook delivery did. Every outcome is acknowledged.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeUnknownReference Outcome = "unknown_reference"
	OutcomeMismatch         Outcome = "kind_mismatch"
	OutcomeShortAmount      Outcome = "short_amount"
	OutcomeCurrency         Outcome = "currency_mismatch"
	OutcomeUnsupported      Outcome = "unsupported"
	// OutcomePending is a verification the gateway could not settle yet.
	OutcomePending Outcome = "pending"
)

type Ack struct {
	Outcome   Outcome                  `json:"outcome"`
	Reference string                   `json:"reference,omitempty"`
	Status    models.TransactionStatus `json:"status,omitempty"`
}

// EventMemory remembers processed webhook ids. It only short-circuits
// redeliveries; the transaction status stays authoritative.
type EventMemory interface {
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	MarkEvent(ctx context.Context, eventID string, ttl time.Duration) error
}

type Worker struct {
	store     repositories.LedgerStore
	gateway   gateway.Gateway
	cache     transaction.AccountCache
	memory    EventMemory
	notifier  notification.Emitter
	logger    *zap.Logger
	memoryTTL time.Duration
	now       func() time.Time
}

type WorkerOption func(*Worker)

func WithEventMemory(memory EventMemory, ttl time.Duration) WorkerOption {
	return func(w *Worker) {
		w.memory = memory
		if ttl > 0 {
			w.memoryTTL = ttl
		}
	}
}

func WithAccountCache(cache transaction.AccountCache) WorkerOption {
	return func(w *Worker) { w.cache = cache }
}

func WithNotifier(notifier notification.Emitter) WorkerOption {
	return func(w *Worker) { w.notifier = notifier }
}

func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) { w.now = now }
}

func NewWorker(store repositories.LedgerStore, gw gateway.Gateway, logger *zap.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{
		store:     store,
		gateway:   gw,
		logger:    logger.Named("reconciliation"),
		memoryTTL: 24 * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// HandleWebhook verifies and applies one raw webhook delivery. Only a bad
// signature or a store failure is returned as an error; everything else is
// acknowledged so the gateway stops redelivering.
func (w *Worker) HandleWebhook(ctx context.Context, payload []byte, signature string) (Ack, error) {
	if w.gateway == nil {
		return Ack{}, fmt.Errorf("webhook: %w", apperrors.ErrGatewayUnreachable)
	}
	evt, err := w.gateway.ParseWebhook(payload, signature)
	switch {
	case errors.Is(err, apperrors.ErrInvalidSignature):
		w.logger.Warn("webhook signature rejected", zap.Int("payload_bytes", len(payload)))
		return Ack{}, err
	case errors.Is(err, gateway.ErrUnsupportedEvent), errors.Is(err, gateway.ErrInvalidPayload):
		w.logger.Info("webhook ignored", zap.Error(err))
		return Ack{Outcome: OutcomeUnsupported}, nil
	case err != nil:
		return Ack{}, err
	}

	if w.memory != nil && evt.ID != "" {
		seen, err := w.memory.SeenEvent(ctx, evt.ID)
		if err != nil {
			w.logger.Warn("event memory read failed", zap.String("event_id", evt.ID), zap.Error(err))
		} else if seen {
			return Ack{Outcome: OutcomeDuplicate, Reference: evt.Reference}, nil
		}
	}

	ack, err := w.OnGatewayEvent(ctx, evt)
	if err != nil {
		return ack, err
	}

	if w.memory != nil && evt.ID != "" {
		if err := w.memory.MarkEvent(ctx, evt.ID, w.memoryTTL); err != nil {
			w.logger.Warn("event memory write failed", zap.String("event_id", evt.ID), zap.Error(err))
		}
	}
	return ack, nil
}

// OnGatewayEvent applies a verified event to its pending transaction.
func (w *Worker) OnGatewayEvent(ctx context.Context, evt gateway.Event) (Ack, error) {
	ctx = context.WithoutCancel(ctx)
	log := w.logger.With(zap.String("reference", evt.Reference), zap.String("kind", string(evt.Kind)))

	ack := Ack{Reference: evt.Reference}
	var settled *models.Transaction
	err := w.store.Atomic(ctx, func(l repositories.Ledger) error {
		tx, err := l.Transactions().LockByReference(ctx, evt.Reference)
		if errors.Is(err, apperrors.ErrNotFound) {
			ack.Outcome = OutcomeUnknownReference
			return nil
		}
		if err != nil {
			return err
		}
		ack.Status = tx.Status

		if tx.Status.Terminal() {
			ack.Outcome = OutcomeDuplicate
			return nil
		}
		if !matches(evt.Kind, tx) {
			ack.Outcome = OutcomeMismatch
			return nil
		}
		if evt.Currency != "" && !strings.EqualFold(evt.Currency, tx.Currency) {
			ack.Outcome = OutcomeCurrency
			return nil
		}
		if evt.Kind == gateway.PaymentSucceeded && !evt.Amount.IsZero() && evt.Amount.LessThan(tx.Amount) {
			ack.Outcome = OutcomeShortAmount
			return nil
		}

		target := models.StatusFailed
		if evt.Kind.Success() {
			target = models.StatusCompleted
		}
		reason := evt.FailureReason
		if target == models.StatusFailed && reason == "" {
			reason = "gateway reported failure"
		}

		if tx.GatewayRef == "" && evt.GatewayRef != "" {
			if err := l.Transactions().AttachGatewayRef(ctx, repositories.AttachGatewayRef{
				TransactionID: tx.ID,
				GatewayRef:    evt.GatewayRef,
			}); err != nil {
				return err
			}
			tx.GatewayRef = evt.GatewayRef
		}
		if _, err := transaction.Apply(ctx, l, tx, target, reason); err != nil {
			return err
		}
		ack.Outcome = OutcomeApplied
		ack.Status = tx.Status
		settled = tx
		return nil
	})
	if err != nil {
		log.Error("webhook settlement failed", zap.Error(err))
		return Ack{}, err
	}

	switch ack.Outcome {
	case OutcomeApplied:
		log.Info("transaction settled", zap.String("status", string(ack.Status)))
		transaction.InvalidateAndNotify(ctx, w.cache, w.notifier, w.logger, settled, w.now())
	case OutcomeShortAmount:
		log.Warn("payment amount below recorded amount, left pending", zap.String("received", evt.Amount.StringFixed(2)))
	case OutcomeCurrency:
		log.Warn("event currency does not match transaction, left pending", zap.String("currency", evt.Currency))
	case OutcomeMismatch:
		log.Warn("event kind does not match transaction leg")
	case OutcomeUnknownReference:
		log.Info("webhook for unknown reference discarded")
	default:
		log.Debug("webhook already settled", zap.String("status", string(ack.Status)))
	}
	return ack, nil
}

// Verification is the state of a transaction after asking the gateway.
type Verification struct {
	Outcome     Outcome             `json:"outcome"`
	Transaction *models.Transaction `json:"transaction"`
}

// Verify asks the gateway for the status of a pending gateway transaction
// owned by userID and settles it the way a webhook would.
func (w *Worker) Verify(ctx context.Context, id, userID uint) (*Verification, error) {
	var tx *models.Transaction
	err := w.store.Read(ctx, func(l repositories.Ledger) error {
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
	if err != nil {
		return nil, err
	}
	if tx.Settlement != models.SettlementGateway {
		return nil, apperrors.NewValidationError("id", "transaction is not settled by the gateway")
	}
	if tx.Status.Terminal() {
		return &Verification{Outcome: OutcomeDuplicate, Transaction: tx}, nil
	}

	ack, err := w.verify(ctx, tx)
	if err != nil {
		return nil, err
	}
	if ack.Outcome == OutcomePending {
		return &Verification{Outcome: OutcomePending, Transaction: tx}, nil
	}

	err = w.store.Read(ctx, func(l repositories.Ledger) error {
		var err error
		tx, err = l.Transactions().GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &Verification{Outcome: ack.Outcome, Transaction: tx}, nil
}

// verify looks tx up at the gateway and applies a final answer.
func (w *Worker) verify(ctx context.Context, tx *models.Transaction) (Ack, error) {
	if w.gateway == nil {
		return Ack{}, fmt.Errorf("verify: %w", apperrors.ErrGatewayUnreachable)
	}
	evt, err := w.gateway.VerifyPayment(ctx, gateway.VerifyRequest{
		Reference:  tx.Reference,
		GatewayRef: tx.GatewayRef,
		Payout:     tx.EagerlyDebited(),
	})
	if errors.Is(err, gateway.ErrNotSettled) {
		w.logger.Debug("gateway has no final status yet", zap.String("reference", tx.Reference), zap.Error(err))
		return Ack{Outcome: OutcomePending, Reference: tx.Reference, Status: tx.Status}, nil
	}
	if err != nil {
		return Ack{}, err
	}
	// the lookup was by our reference or id, so the answer is about tx
	evt.Reference = tx.Reference
	return w.OnGatewayEvent(ctx, evt)
}

// matches pairs payment events with gateway deposits and payout events
// with eagerly debited payouts.
func matches(kind gateway.EventKind, tx *models.Transaction) bool {
	if tx.Settlement != models.SettlementGateway {
		return false
	}
	if kind.Payment() {
		return tx.Type.Direction() == models.DirectionCredit
	}
	return tx.EagerlyDebited()
}
