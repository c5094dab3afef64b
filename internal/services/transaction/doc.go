/*
Package transaction is the consistency engine of the wallet: it moves
money, records what moved, and keeps the balance equal to the sum of its
transactions.

Every balance-affecting operation runs in one unit of work that locks the
account row first, so operations on an account are serialized. Paths that
touch an existing transaction lock the transaction row before the account.

Usage:

	svc := transaction.NewService(store, evaluator, gw, cache, emitter, logger, transaction.Config{})

	// Local debit: completed on return
	res, err := svc.Execute(ctx, transaction.DebitIntent{
	    UserID: 1,
	    Type:   models.TransactionTypeTransfer,
	    Amount: decimal.NewFromInt(25000),
	})

	// Gateway deposit: pending until the gateway webhook arrives
	res, err = svc.Execute(ctx, transaction.DepositIntent{
	    UserID:   1,
	    Type:     models.TransactionTypeDeposit,
	    Amount:   decimal.NewFromInt(5000),
	    Currency: "XOF",
	})

	// Compensation of a completed debit
	res, err = svc.Cancel(ctx, res.Transaction.ID, 1, "requested by user")

Error Handling:

Errors come from caredit/internal/errors: *ValidationError,
*LimitExceededError, *InsufficientBalanceError, *IllegalTransitionError,
ErrNotFound, ErrDuplicateReference, ErrGatewayTimeout, ErrGatewayUnreachable
and ErrGatewayRejected. Gateway errors are returned together with a Result
describing the transaction as it stands.
*/
package transaction
