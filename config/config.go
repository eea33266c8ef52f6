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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5401"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"APERTURE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"APERTURE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"APERTURE_SERVER_SECRET_KEY"`
	JWTSecret string `json:"jwt_secret" envconfig:"APERTURE_SERVER_JWT_SECRET"`
	Domain    string `json:"domain" envconfig:"APERTURE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"APERTURE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"APERTURE_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns    string `json:"dns" envconfig:"APERTURE_DATA_SOURCE_DNS"`
	Driver string `json:"driver" envconfig:"APERTURE_DATA_SOURCE_DRIVER"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"APERTURE_REDIS_DNS"`
}

// ProviderService holds the connection details and billing profile of one
// external enhancement provider.
type ProviderService struct {
	URL             string  `json:"url"`
	APIKey          string  `json:"api_key"`
	CreditCost      int64   `json:"credit_cost"`      // user credits charged per request
	PlatformCredits int64   `json:"platform_credits"` // provider-side credits consumed per request
	CostUSD         string  `json:"cost_usd"`         // decimal string, platform cost per request
	TimeoutSeconds  float64 `json:"timeout_seconds"`
}

type ProviderConfig struct {
	CallbackURL string                     `json:"callback_url" envconfig:"APERTURE_PROVIDER_CALLBACK_URL"`
	Default     string                     `json:"default" envconfig:"APERTURE_PROVIDER_DEFAULT"`
	Services    map[string]ProviderService `json:"services"`
}

type StorageConfig struct {
	AwsAccessKeyId     string `json:"aws_access_key_id" envconfig:"APERTURE_AWS_ACCESS_KEY_ID"`
	AwsSecretAccessKey string `json:"aws_secret_access_key" envconfig:"APERTURE_AWS_SECRET_ACCESS_KEY"`
	S3Endpoint         string `json:"s3_endpoint" envconfig:"APERTURE_S3_ENDPOINT"`
	S3BucketName       string `json:"s3_bucket_name" envconfig:"APERTURE_S3_BUCKET_NAME"`
	S3Region           string `json:"s3_region" envconfig:"APERTURE_S3_REGION"`
	PublicBaseURL      string `json:"public_base_url" envconfig:"APERTURE_S3_PUBLIC_BASE_URL"`
}

type QueueConfig struct {
	EventQueue           string `json:"event_queue" envconfig:"APERTURE_QUEUE_EVENT_QUEUE"`
	MonitoringPort       string `json:"monitoring_port" envconfig:"APERTURE_QUEUE_MONITORING_PORT"`
	StaleTaskThreshold   int    `json:"stale_task_threshold_min" envconfig:"APERTURE_QUEUE_STALE_TASK_THRESHOLD_MIN"`
	StalePollIntervalSec int    `json:"stale_poll_interval_sec" envconfig:"APERTURE_QUEUE_STALE_POLL_INTERVAL_SEC"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"APERTURE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"APERTURE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"APERTURE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"APERTURE_PROJECT_NAME"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"APERTURE_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Provider        ProviderConfig   `json:"provider"`
	Storage         StorageConfig    `json:"storage"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}
	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("aperture", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called aperture.json with your config")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Aperture Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.DataSource.Driver == "" {
		cnf.DataSource.Driver = "postgres"
	}
	if cnf.DataSource.Driver != "postgres" && cnf.DataSource.Driver != "mysql" {
		return errors.New("data source driver must be postgres or mysql")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Provider.Services == nil {
		cnf.Provider.Services = map[string]ProviderService{}
	}
	if _, ok := cnf.Provider.Services["nanobanana"]; !ok {
		cnf.Provider.Services["nanobanana"] = ProviderService{
			URL:             "https://api.nanobananaapi.ai/api/v1/nanobanana/generate",
			CreditCost:      1,
			PlatformCredits: 4,
			CostUSD:         "0.025",
			TimeoutSeconds:  30,
		}
	}
	if _, ok := cnf.Provider.Services["seedream"]; !ok {
		cnf.Provider.Services["seedream"] = ProviderService{
			CreditCost:      2,
			PlatformCredits: 2,
			CostUSD:         "0.05",
			TimeoutSeconds:  30,
		}
	}
	if cnf.Provider.Default == "" {
		cnf.Provider.Default = "nanobanana"
	}

	if cnf.Queue.EventQueue == "" {
		cnf.Queue.EventQueue = "aperture:events"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5402"
	}
	if cnf.Queue.StaleTaskThreshold <= 0 {
		cnf.Queue.StaleTaskThreshold = 30 // minutes a task may sit in processing before the sweep fails it
	}
	if cnf.Queue.StalePollIntervalSec <= 0 {
		cnf.Queue.StalePollIntervalSec = 60
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	// Set default value for Port if it's empty
	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// StaleTaskAge returns the age past which a processing task is considered stuck.
func (cnf *Configuration) StaleTaskAge() time.Duration {
	return time.Duration(cnf.Queue.StaleTaskThreshold) * time.Minute
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	if mockConfig.Provider.Services == nil {
		mockConfig.Provider.Services = map[string]ProviderService{}
	}
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
