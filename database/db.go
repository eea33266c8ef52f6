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

package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/internal/cache"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Driver, configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		instance = &Datasource{Conn: con, Cache: nil}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(driver, dns string) (*sql.DB, error) {
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createCreditAccountTable(db)
	if err != nil {
		return nil, err
	}
	err = createEnhancementTaskTable(db)
	if err != nil {
		return nil, err
	}
	err = createCreditTransactionTable(db)
	if err != nil {
		return nil, err
	}
	err = createRefundAuditTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createCreditAccountTable creates a PostgreSQL table for the CreditAccount struct
func createCreditAccountTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_accounts (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			consumed_this_month BIGINT NOT NULL DEFAULT 0,
			monthly_allowance BIGINT NOT NULL DEFAULT 0,
			subscription_tier TEXT NOT NULL DEFAULT 'free',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating credit_accounts table: %v", err)
	}
	return err
}

// createEnhancementTaskTable creates a PostgreSQL table for the EnhancementTask struct
func createEnhancementTaskTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS enhancement_tasks (
			id SERIAL PRIMARY KEY,
			task_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			input_image_url TEXT NOT NULL,
			enhancement_type TEXT,
			prompt TEXT,
			strength DOUBLE PRECISION,
			provider TEXT NOT NULL,
			provider_task_id TEXT,
			status TEXT NOT NULL CHECK (status IN ('PROCESSING', 'COMPLETED', 'FAILED')),
			result_url TEXT,
			error_kind TEXT,
			error_message TEXT,
			refunded BOOLEAN NOT NULL DEFAULT FALSE,
			credit_cost BIGINT NOT NULL,
			cost_usd NUMERIC(10, 4) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMP,
			failed_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating enhancement_tasks table: %v", err)
		return err
	}
	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_enhancement_tasks_provider_task
		ON enhancement_tasks (provider, provider_task_id)
	`)
	log.Println(err)
	return err
}

// createCreditTransactionTable creates a PostgreSQL table for the CreditTransaction struct
func createCreditTransactionTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credit_transactions (
			id SERIAL PRIMARY KEY,
			transaction_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			transaction_type TEXT NOT NULL CHECK (transaction_type IN ('deduction', 'refund')),
			credits BIGINT NOT NULL,
			cost_usd NUMERIC(10, 4) NOT NULL DEFAULT 0,
			provider TEXT,
			task_id TEXT,
			status TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}

// createRefundAuditTable creates a PostgreSQL table for the RefundRecord struct
func createRefundAuditTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS refund_audit_log (
			id SERIAL PRIMARY KEY,
			refund_id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL UNIQUE REFERENCES enhancement_tasks(task_id),
			user_id TEXT NOT NULL,
			credits_refunded BIGINT NOT NULL,
			refund_reason TEXT,
			platform_loss BIGINT NOT NULL DEFAULT 0,
			previous_balance BIGINT NOT NULL,
			new_balance BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	log.Println(err)
	return err
}
