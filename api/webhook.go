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
)

// ProviderWebhook receives a provider's terminal callback. It always
// responds 200: a non-2xx here only makes the provider retry a callback we
// already know how to handle or can never handle, and retry storms against
// this surface have real cost.
func (a Api) ProviderWebhook(c *gin.Context) {
	provider, _ := c.Params.Get("provider")

	var callback aperture.ProviderCallback
	if err := c.ShouldBindJSON(&callback); err != nil {
		logrus.Warnf("malformed callback from %s: %v", provider, err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := a.aperture.ResolveProviderCallback(c.Request.Context(), provider, &callback); err != nil {
		logrus.Errorf("callback resolution failed for %s: %v", provider, err)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
