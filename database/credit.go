/*
Copyright 2026 Aperture Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

// CreateAccount inserts a new credit account seeded with the allowance of its
// subscription tier.
func (d Datasource) CreateAccount(ctx context.Context, account model.CreditAccount) (model.CreditAccount, error) {
	account.AccountID = model.GenerateUUIDWithSuffix("acct")
	account.CreatedAt = time.Now()
	if account.SubscriptionTier == "" {
		account.SubscriptionTier = model.TierFree
	}
	if account.MonthlyAllowance == 0 {
		account.MonthlyAllowance = model.AllowanceForTier(account.SubscriptionTier)
	}

	_, err := d.Conn.ExecContext(ctx,
		`INSERT INTO credit_accounts (account_id, user_id, balance, consumed_this_month, monthly_allowance, subscription_tier, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		account.AccountID, account.UserID, account.Balance, account.ConsumedThisMonth,
		account.MonthlyAllowance, account.SubscriptionTier, account.CreatedAt)
	if err != nil {
		return model.CreditAccount{}, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create credit account", err)
	}
	return account, nil
}

// GetAccountByUserID retrieves the credit account owned by a user.
func (d Datasource) GetAccountByUserID(ctx context.Context, userID string) (*model.CreditAccount, error) {
	row := d.Conn.QueryRowContext(ctx,
		`SELECT account_id, user_id, balance, consumed_this_month, monthly_allowance, subscription_tier, created_at, updated_at
		 FROM credit_accounts WHERE user_id = $1`, userID)

	account := model.CreditAccount{}
	err := row.Scan(&account.AccountID, &account.UserID, &account.Balance, &account.ConsumedThisMonth,
		&account.MonthlyAllowance, &account.SubscriptionTier, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrAccountNotFound, fmt.Sprintf("Credit account for user '%s' not found", userID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit account", err)
	}
	return &account, nil
}

// ReserveCredits debits the user's balance and appends the deduction entry in
// one database transaction. The debit only succeeds while the balance covers
// the amount, so concurrent reservations can never drive it negative.
func (d Datasource) ReserveCredits(ctx context.Context, userID string, amount int64, txn *model.CreditTransaction) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx,
		`UPDATE credit_accounts
		 SET balance = balance - $1, consumed_this_month = consumed_this_month + $1, updated_at = NOW()
		 WHERE user_id = $2 AND balance >= $1`,
		amount, userID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve credits", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve credits", err)
	}
	if rows == 0 {
		// Distinguish a missing account from an underfunded one.
		var exists bool
		err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM credit_accounts WHERE user_id = $1)`, userID).Scan(&exists)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reserve credits", err)
		}
		if !exists {
			return apierror.NewAPIError(apierror.ErrAccountNotFound, fmt.Sprintf("Credit account for user '%s' not found", userID), nil)
		}
		return apierror.NewAPIError(apierror.ErrInsufficientCredits, fmt.Sprintf("Insufficient credits: %d required", amount), nil)
	}

	txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	txn.UserID = userID
	txn.Type = model.TransactionDeduction
	txn.Credits = amount
	txn.CreatedAt = time.Now()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_transactions (transaction_id, user_id, transaction_type, credits, cost_usd, provider, task_id, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.TransactionID, txn.UserID, txn.Type, txn.Credits, txn.CostUSD.String(),
		txn.Provider, txn.TaskID, txn.Status, txn.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record deduction", err)
	}

	if err := tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit reservation", err)
	}
	return nil
}

// GetCreditTransactions lists a user's ledger entries, newest first.
func (d Datasource) GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx,
		`SELECT transaction_id, user_id, transaction_type, credits, cost_usd, COALESCE(provider, ''), COALESCE(task_id, ''), COALESCE(status, ''), created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve transactions", err)
	}
	defer rows.Close()

	transactions := []model.CreditTransaction{}
	for rows.Next() {
		txn := model.CreditTransaction{}
		var costUSD string
		err = rows.Scan(&txn.TransactionID, &txn.UserID, &txn.Type, &txn.Credits, &costUSD,
			&txn.Provider, &txn.TaskID, &txn.Status, &txn.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		txn.CostUSD, err = decimalFromString(costUSD)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to parse transaction cost", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error iterating transactions", err)
	}
	return transactions, nil
}

func decimalFromString(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}
