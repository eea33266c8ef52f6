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
	"time"

	"github.com/gin-gonic/gin"
)

// GetRefunds lists the refund audit log for operators.
func (a Api) GetRefunds(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := a.aperture.GetRefundRecords(c.Request.Context(), limit, offset)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"refunds": records})
}

// GetRefundByTask returns the refund audit row for one task.
func (a Api) GetRefundByTask(c *gin.Context) {
	taskID, passed := c.Params.Get("task_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task_id is required. pass id in the route /:task_id"})
		return
	}

	record, err := a.aperture.GetRefundRecordByTaskID(c.Request.Context(), taskID)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

// SweepStaleTasks triggers an immediate sweep of tasks stuck in processing.
// The optional threshold_minutes query parameter overrides the configured
// threshold, floored at 2 minutes.
func (a Api) SweepStaleTasks(c *gin.Context) {
	thresholdMinutes, _ := strconv.Atoi(c.DefaultQuery("threshold_minutes", "0"))
	threshold := time.Duration(thresholdMinutes) * time.Minute

	count, err := a.aperture.SweepStaleTasks(c.Request.Context(), threshold)
	if err != nil {
		a.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"swept": count})
}
