// Package memory is an in-process LedgerStore. Units of work are
// serialized by one mutex and applied copy-on-write, so a failed unit
// leaves no trace. Used by tests and by STORE_DRIVER=memory.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"caredit/internal/models"
	"caredit/internal/repositories"
)

type state struct {
	accounts     map[uint]models.Account
	cards        map[uint]models.Card
	limits       map[uint]models.TransactionLimits
	transactions map[uint]models.Transaction
	references   map[string]uint
	nextID       uint
}

func newState() *state {
	return &state{
		accounts:     make(map[uint]models.Account),
		cards:        make(map[uint]models.Card),
		limits:       make(map[uint]models.TransactionLimits),
		transactions: make(map[uint]models.Transaction),
		references:   make(map[string]uint),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:     make(map[uint]models.Account, len(s.accounts)),
		cards:        make(map[uint]models.Card, len(s.cards)),
		limits:       make(map[uint]models.TransactionLimits, len(s.limits)),
		transactions: make(map[uint]models.Transaction, len(s.transactions)),
		references:   make(map[string]uint, len(s.references)),
		nextID:       s.nextID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.limits {
		c.limits[k] = v
	}
	for k, v := range s.transactions {
		v.Metadata = v.Metadata.Clone()
		c.transactions[k] = v
	}
	for k, v := range s.references {
		c.references[k] = v
	}
	return c
}

func (s *state) id() uint {
	s.nextID++
	return s.nextID
}

// LedgerStore implements repositories.LedgerStore in memory.
type LedgerStore struct {
	mu    sync.RWMutex
	state *state
	now   func() time.Time
}

// Option configures a LedgerStore.
type Option func(*LedgerStore)

// WithClock sets the clock used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *LedgerStore) {
		s.now = now
	}
}

func NewLedgerStore(opts ...Option) *LedgerStore {
	s := &LedgerStore{
		state: newState(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LedgerStore) Atomic(ctx context.Context, fn func(repositories.Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&ledger{state: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *LedgerStore) Read(ctx context.Context, fn func(repositories.Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&ledger{state: s.state, now: s.now, readOnly: true})
}

func (s *LedgerStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

var _ repositories.LedgerStore = (*LedgerStore)(nil)

type ledger struct {
	state    *state
	now      func() time.Time
	readOnly bool
}

func (l *ledger) Accounts() repositories.AccountRepository         { return &accounts{l} }
func (l *ledger) Cards() repositories.CardRepository               { return &cards{l} }
func (l *ledger) Limits() repositories.LimitsRepository            { return &limits{l} }
func (l *ledger) Transactions() repositories.TransactionRepository { return &transactions{l} }

func sortTotals(totals []repositories.TypeTotal) {
	sort.Slice(totals, func(i, j int) bool { return totals[i].Type < totals[j].Type })
}

func sortByCreated(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
}
