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

package request

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// ToJsonReq serializes a payload into a buffer ready to be used as an HTTP
// request body.
func ToJsonReq(payload interface{}) (*bytes.Buffer, error) {
	c, e := json.Marshal(payload)
	if e != nil {
		return nil, e
	}
	return bytes.NewBuffer(c), nil
}

// Call sends the request with a JSON content type and decodes the JSON
// response into the provided target.
func Call(req *http.Request, response interface{}) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, err
	}
	return resp, err
}

// CallWithTimeout is Call with a bounded client timeout. Outbound provider
// submissions and asset downloads must never block indefinitely.
func CallWithTimeout(req *http.Request, response interface{}, timeout time.Duration) (*http.Response, error) {
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: timeout}

	resp, err := client.Do(req)
	if err != nil {
		return resp, err
	}

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return resp, err
	}
	return resp, err
}
