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
package model

import (
	"errors"
	"net/url"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// CreateEnhancement is the request body for submitting a new enhancement.
type CreateEnhancement struct {
	InputImageURL   string  `json:"inputImageUrl"`
	EnhancementType string  `json:"enhancementType"`
	Prompt          string  `json:"prompt"`
	Strength        float64 `json:"strength"`
	Provider        string  `json:"provider"`
}

func httpURLValidation(value interface{}) error {
	raw, _ := value.(string)
	parsed, err := url.Parse(raw)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("must be a valid http(s) url")
	}
	return nil
}

func (e *CreateEnhancement) ValidateCreateEnhancement() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.InputImageURL, validation.Required, validation.By(httpURLValidation)),
		validation.Field(&e.EnhancementType, validation.Required),
		validation.Field(&e.Prompt, validation.Length(0, 2000)),
		validation.Field(&e.Strength, validation.Min(0.0), validation.Max(1.0)),
	)
}
