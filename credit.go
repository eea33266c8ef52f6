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

package aperture

import (
	"context"

	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/model"
)

// CreateCreditAccount provisions a credit account for a user, seeded with
// the allowance of their subscription tier.
func (a *Aperture) CreateCreditAccount(ctx context.Context, userID, tier string) (model.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "Creating Credit Account")
	defer span.End()

	account := model.CreditAccount{
		UserID:           userID,
		SubscriptionTier: tier,
		Balance:          model.AllowanceForTier(tier),
	}
	return a.datasource.CreateAccount(ctx, account)
}

// GetCreditAccount retrieves a user's credit account, provisioning a free
// tier account on first touch.
func (a *Aperture) GetCreditAccount(ctx context.Context, userID string) (*model.CreditAccount, error) {
	ctx, span := tracer.Start(ctx, "Getting Credit Account")
	defer span.End()

	account, err := a.datasource.GetAccountByUserID(ctx, userID)
	if err != nil {
		apiErr, ok := err.(apierror.APIError)
		if ok && apiErr.Code == apierror.ErrAccountNotFound {
			created, createErr := a.CreateCreditAccount(ctx, userID, model.TierFree)
			if createErr != nil {
				return nil, createErr
			}
			return &created, nil
		}
		return nil, err
	}
	return account, nil
}

// GetCreditTransactions lists a user's ledger entries, newest first.
func (a *Aperture) GetCreditTransactions(ctx context.Context, userID string, limit, offset int) ([]model.CreditTransaction, error) {
	ctx, span := tracer.Start(ctx, "Getting Credit Transactions")
	defer span.End()

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return a.datasource.GetCreditTransactions(ctx, userID, limit, offset)
}
