// Command seed opens a funded wallet account with an active card for a user
// and prints a bearer token for it. Development only.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"caredit/internal/config"
	apperrors "caredit/internal/errors"
	"caredit/internal/models"
	"caredit/internal/repositories"
	"caredit/internal/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	userID := flag.Uint("user", 1, "user id to seed")
	balance := flag.String("balance", "100000", "opening balance")
	role := flag.String("role", "user", "role carried by the token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	config.LoadEnv()
	cfg := config.Load()
	if config.IsProduction() {
		log.Fatal("refusing to seed a production database")
	}

	opening, err := decimal.NewFromString(*balance)
	if err != nil || opening.IsNegative() {
		log.Fatalf("invalid balance %q", *balance)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal(err)
	}

	db, err := repositories.Open(repositories.DBConfig{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	store := repositories.NewGormLedgerStore(db)
	ctx := context.Background()
	uid := *userID

	err = store.Atomic(ctx, func(l repositories.Ledger) error {
		account, err := l.Accounts().GetByUserID(ctx, uid)
		if errors.Is(err, apperrors.ErrNotFound) {
			account = &models.Account{UserID: uid, Balance: opening, Currency: cfg.DefaultCurrency}
			if err := l.Accounts().Create(ctx, account); err != nil {
				return err
			}
			log.Printf("account %d opened with balance %s", account.ID, opening.StringFixed(2))
			return l.Cards().Create(ctx, &models.Card{
				AccountID:    account.ID,
				UserID:       uid,
				LastFour:     "4242",
				Brand:        "visa",
				DailyLimit:   decimal.NewFromInt(500000),
				MonthlyLimit: decimal.NewFromInt(2000000),
				Status:       models.CardStatusActive,
			})
		}
		if err != nil {
			return err
		}
		log.Printf("account %d already exists, balance %s", account.ID, account.Balance.StringFixed(2))
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to seed account: %v", err)
	}

	token, err := utils.GenerateToken(cfg.JWTSecret, &models.UserClaims{
		UserID:      uid,
		Role:        *role,
		Permissions: models.GetDefaultPermissions(*role),
	}, *ttl)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Println(token)
}
