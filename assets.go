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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/aperturehq/aperture/config"
)

// AssetStore persists a provider's result image and returns a durable URL.
type AssetStore interface {
	PersistResult(ctx context.Context, taskID, sourceURL string) (string, error)
}

// S3AssetStore downloads the provider's ephemeral result and re-uploads it to
// the platform bucket. Provider result URLs expire, so completed tasks must
// not keep pointing at them.
type S3AssetStore struct {
	conf config.StorageConfig
}

func NewS3AssetStore(configuration *config.Configuration) *S3AssetStore {
	return &S3AssetStore{conf: configuration.Storage}
}

func (s *S3AssetStore) PersistResult(ctx context.Context, taskID, sourceURL string) (string, error) {
	ctx, span := tracer.Start(ctx, "Persisting Result Asset")
	defer span.End()

	if s.conf.S3BucketName == "" {
		return "", fmt.Errorf("no result bucket configured")
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", sourceURL, nil)
	if err != nil {
		return "", err
	}
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("result download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	awsConfig := &aws.Config{
		Region:      aws.String(s.conf.S3Region),
		Credentials: credentials.NewStaticCredentials(s.conf.AwsAccessKeyId, s.conf.AwsSecretAccessKey, ""),
	}
	if s.conf.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.conf.S3Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("results/%s.png", taskID)
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}

	_, err = s3.New(sess).PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.conf.S3BucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", err
	}

	if s.conf.PublicBaseURL != "" {
		return fmt.Sprintf("%s/%s", s.conf.PublicBaseURL, key), nil
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.conf.S3BucketName, s.conf.S3Region, key), nil
}
