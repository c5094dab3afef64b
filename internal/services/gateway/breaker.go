package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "caredit/internal/errors"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type BreakerConfig struct {
	// Timeout bounds every outbound call.
	Timeout             time.Duration
	MaxRequests         uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

// DefaultBreakerConfig suits an external HTTP API.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Timeout:             10 * time.Second,
		MaxRequests:         3,
		Interval:            2 * time.Minute,
		OpenTimeout:         30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Breaker bounds and guards outbound calls to a Gateway. An open circuit
// surfaces as ErrGatewayUnreachable and a deadline as ErrGatewayTimeout.
// Explicit rejections and not-yet-settled answers pass through untouched
// and do not trip the circuit.
type Breaker struct {
	next    Gateway
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
}

func NewBreaker(next Gateway, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if next == nil {
		panic("gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultBreakerConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}

	b := &Breaker{next: next, timeout: cfg.Timeout, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gateway-" + next.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsRejected(err) || errors.Is(err, ErrNotSettled)
		},
	})
	return b
}

func (b *Breaker) Name() string { return b.next.Name() }

func (b *Breaker) SignatureHeader() string { return b.next.SignatureHeader() }

func (b *Breaker) ParseWebhook(payload []byte, signature string) (Event, error) {
	return b.next.ParseWebhook(payload, signature)
}

// State exposes the circuit state for health reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) InitializePayment(ctx context.Context, req PaymentRequest) (*PaymentHandle, error) {
	res, err := b.execute(ctx, "initialize_payment", func(ctx context.Context) (interface{}, error) {
		return b.next.InitializePayment(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*PaymentHandle), nil
}

func (b *Breaker) InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutHandle, error) {
	res, err := b.execute(ctx, "initiate_payout", func(ctx context.Context) (interface{}, error) {
		return b.next.InitiatePayout(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.(*PayoutHandle), nil
}

func (b *Breaker) VerifyPayment(ctx context.Context, req VerifyRequest) (Event, error) {
	res, err := b.execute(ctx, "verify_payment", func(ctx context.Context) (interface{}, error) {
		return b.next.VerifyPayment(ctx, req)
	})
	if err != nil {
		return Event{}, err
	}
	return res.(Event), nil
}

func (b *Breaker) execute(ctx context.Context, op string, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn(callCtx)
	})
	if err == nil {
		return res, nil
	}

	switch {
	case IsRejected(err), errors.Is(err, ErrNotSettled):
		return nil, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		b.logger.Warn("gateway call refused by open circuit", zap.String("op", op))
		return nil, fmt.Errorf("%s: %w", op, apperrors.ErrGatewayUnreachable)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(callCtx.Err(), context.DeadlineExceeded):
		b.logger.Warn("gateway call timed out", zap.String("op", op), zap.Duration("timeout", b.timeout))
		return nil, fmt.Errorf("%s: %w", op, apperrors.ErrGatewayTimeout)
	default:
		b.logger.Warn("gateway call failed", zap.String("op", op), zap.Error(err))
		return nil, fmt.Errorf("%s: %w: %v", op, apperrors.ErrGatewayUnreachable, err)
	}
}

var _ Gateway = (*Breaker)(nil)
