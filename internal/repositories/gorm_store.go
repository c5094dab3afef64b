package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type gormLedgerStore struct {
	db *gorm.DB
}

// NewGormLedgerStore returns a LedgerStore backed by postgres through gorm.
func NewGormLedgerStore(db *gorm.DB) LedgerStore {
	if db == nil {
		panic("nil db")
	}
	return &gormLedgerStore{db: db}
}

func (s *gormLedgerStore) Atomic(ctx context.Context, fn func(Ledger) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormLedger{db: tx})
	})
}

func (s *gormLedgerStore) Read(ctx context.Context, fn func(Ledger) error) error {
	return fn(&gormLedger{db: s.db.WithContext(ctx), readOnly: true})
}

func (s *gormLedgerStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

type gormLedger struct {
	db       *gorm.DB
	readOnly bool
}

func (l *gormLedger) Accounts() AccountRepository {
	return &accountRepository{db: l.db, readOnly: l.readOnly}
}

func (l *gormLedger) Cards() CardRepository {
	return &cardRepository{db: l.db, readOnly: l.readOnly}
}

func (l *gormLedger) Limits() LimitsRepository {
	return &limitsRepository{db: l.db, readOnly: l.readOnly}
}

func (l *gormLedger) Transactions() TransactionRepository {
	return &transactionRepository{db: l.db, readOnly: l.readOnly}
}
