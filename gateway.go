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
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/internal/apierror"
	"github.com/aperturehq/aperture/internal/request"
)

// ProviderRequest is the submission handed to an external enhancement
// provider.
type ProviderRequest struct {
	TaskID          string  `json:"task_id"`
	InputImageURL   string  `json:"input_image_url"`
	EnhancementType string  `json:"enhancement_type"`
	Prompt          string  `json:"prompt"`
	Strength        float64 `json:"strength"`
	CallbackURL     string  `json:"callback_url"`
}

// ProviderGateway submits enhancement work to an external provider and
// returns the provider's task id.
type ProviderGateway interface {
	Submit(ctx context.Context, provider string, service config.ProviderService, req ProviderRequest) (string, error)
}

// submitTypeImageToImage is the exact string the generate endpoint accepts.
// The provider's API misspells it; IMAGETOIMAGE is rejected.
const submitTypeImageToImage = "IMAGETOIAMGE"

type providerSubmitPayload struct {
	Prompt      string   `json:"prompt"`
	Type        string   `json:"type"`
	ImageURLs   []string `json:"imageUrls"`
	CallBackURL string   `json:"callBackUrl"`
	NumImages   int      `json:"numImages"`
}

type providerSubmitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// HTTPProviderGateway talks to providers over HTTP with bounded timeouts and
// exponential backoff on transport errors. Provider-side rejections are not
// retried; the provider has already accepted or refused the work.
type HTTPProviderGateway struct {
	maxElapsed time.Duration
}

func NewHTTPProviderGateway() *HTTPProviderGateway {
	return &HTTPProviderGateway{maxElapsed: 15 * time.Second}
}

func (g *HTTPProviderGateway) Submit(ctx context.Context, provider string, service config.ProviderService, req ProviderRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "Submitting Task To Provider")
	defer span.End()

	if service.URL == "" {
		return "", apierror.NewAPIError(apierror.ErrProviderRejected, fmt.Sprintf("Provider '%s' has no endpoint configured", provider), nil)
	}

	// The generate endpoint only runs image-to-image jobs; the enhancement
	// type and strength travel inside the prompt.
	payload := providerSubmitPayload{
		Prompt:      fmt.Sprintf("%s (Enhancement type: %s, Strength: %g)", req.Prompt, req.EnhancementType, req.Strength),
		Type:        submitTypeImageToImage,
		ImageURLs:   []string{req.InputImageURL},
		CallBackURL: req.CallbackURL,
		NumImages:   1,
	}

	timeout := time.Duration(service.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var response providerSubmitResponse
	operation := func() error {
		body, err := request.ToJsonReq(&payload)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, "POST", service.URL, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+service.APIKey)

		resp, err := request.CallWithTimeout(httpReq, &response, timeout)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("provider returned status %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = g.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return "", apierror.NewAPIError(apierror.ErrProviderRejected, fmt.Sprintf("Provider '%s' submission failed", provider), err)
	}

	if response.Code != 200 || response.Data.TaskID == "" {
		return "", apierror.NewAPIError(apierror.ErrProviderRejected, fmt.Sprintf("Provider '%s' rejected task: %s", provider, response.Msg), nil)
	}
	return response.Data.TaskID, nil
}
