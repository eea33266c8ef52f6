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
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/aperturehq/aperture"
	"github.com/aperturehq/aperture/api/middleware"
	"github.com/aperturehq/aperture/config"
)

type Api struct {
	aperture *aperture.Aperture
	router   *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	user := router.Group("/v1", middleware.JWTAuthMiddleware())
	user.POST("/enhancements", a.CreateEnhancement)
	user.GET("/enhancements/status", a.GetEnhancementStatus)
	user.GET("/enhancements/:id", a.GetEnhancement)
	user.GET("/credits", a.GetCredits)
	user.GET("/credits/transactions", a.GetCreditTransactions)

	// Provider callbacks are unauthenticated and always acknowledged.
	router.POST("/v1/webhooks/:provider", a.ProviderWebhook)

	operator := router.Group("/v1", middleware.SecretKeyAuthMiddleware())
	operator.GET("/refunds", a.GetRefunds)
	operator.GET("/refunds/:task_id", a.GetRefundByTask)
	operator.POST("/tasks/sweep-stale", a.SweepStaleTasks)

	return a.router
}

func NewAPI(a *aperture.Aperture) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware("aperture"))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{aperture: a, router: r}
}
