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

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/aperturehq/aperture"
	"github.com/aperturehq/aperture/api/middleware"
	model2 "github.com/aperturehq/aperture/api/model"
	"github.com/aperturehq/aperture/internal/apierror"
)

// CreateEnhancement handles the submission of a new enhancement task.
// It binds the incoming JSON request to a CreateEnhancement object, validates it,
// and then submits the enhancement. An underfunded account gets a 402 with the
// current balance so the client can prompt for an upgrade.
//
// Parameters:
// - c: The Gin context containing the request and response.
//
// Responses:
// - 400 Bad Request: If there's an error in binding JSON or validating the request.
// - 402 Payment Required: If the user's balance does not cover the provider's cost.
// - 201 Created: If the task is successfully submitted.
func (a Api) CreateEnhancement(c *gin.Context) {
	var newEnhancement model2.CreateEnhancement
	if err := c.ShouldBindJSON(&newEnhancement); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	err := newEnhancement.ValidateCreateEnhancement()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	userID := middleware.AuthenticatedUser(c)
	task, err := a.aperture.SubmitEnhancement(c.Request.Context(), &aperture.EnhancementRequest{
		UserID:          userID,
		InputImageURL:   newEnhancement.InputImageURL,
		EnhancementType: newEnhancement.EnhancementType,
		Prompt:          newEnhancement.Prompt,
		Strength:        newEnhancement.Strength,
		Provider:        newEnhancement.Provider,
	})
	if err != nil {
		apiErr, ok := err.(apierror.APIError)
		if ok && apiErr.Code == apierror.ErrInsufficientCredits {
			balance := int64(0)
			if account, accErr := a.aperture.GetCreditAccount(c.Request.Context(), userID); accErr == nil {
				balance = account.Balance
			}
			c.JSON(http.StatusPaymentRequired, gin.H{
				"error":          apiErr.Message,
				"code":           apiErr.Code,
				"currentBalance": balance,
			})
			return
		}
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"taskId":  task.TaskID,
		"status":  task.Status,
	})
}

// GetEnhancementStatus returns the current status of a task identified by
// the taskId query parameter.
//
// Responses:
// - 400 Bad Request: If taskId is missing.
// - 404 Not Found: If no task with that id belongs to the caller.
// - 200 OK: The task's status, result URL and error details.
func (a Api) GetEnhancementStatus(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "taskId query parameter is required"})
		return
	}

	task, err := a.aperture.GetTaskStatus(c.Request.Context(), taskID, middleware.AuthenticatedUser(c))
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"taskId":       task.TaskID,
		"status":       task.Status,
		"resultUrl":    task.ResultURL,
		"errorKind":    task.ErrorKind,
		"errorMessage": task.ErrorMessage,
		"refunded":     task.Refunded,
	})
}

// GetEnhancement returns the full task record by route id.
func (a Api) GetEnhancement(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	task, err := a.aperture.GetTaskStatus(c.Request.Context(), id, middleware.AuthenticatedUser(c))
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, task)
}

func (a Api) handleError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if apiErr, ok := err.(apierror.APIError); ok {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
