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
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aperturehq/aperture/api/middleware"
)

// GetCredits returns the caller's credit account. First touch provisions a
// free tier account.
func (a Api) GetCredits(c *gin.Context) {
	account, err := a.aperture.GetCreditAccount(c.Request.Context(), middleware.AuthenticatedUser(c))
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// GetCreditTransactions lists the caller's ledger entries with limit/offset
// pagination.
func (a Api) GetCreditTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	transactions, err := a.aperture.GetCreditTransactions(c.Request.Context(), middleware.AuthenticatedUser(c), limit, offset)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"transactions": transactions})
}
