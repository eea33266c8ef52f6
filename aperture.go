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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/aperturehq/aperture/config"
	"github.com/aperturehq/aperture/database"
	"github.com/aperturehq/aperture/internal/cache"
	redis_db "github.com/aperturehq/aperture/internal/redis-db"
)

// Aperture is the main service struct. It owns the credit ledger, the
// enhancement task lifecycle, provider dispatch and the refund engine.
type Aperture struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	gateway    ProviderGateway
	assets     AssetStore
	cache      cache.Cache
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewAperture initializes a new instance of Aperture with the provided database datasource.
// It fetches the configuration and initializes the Redis client, queue, provider gateway
// and asset store.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
//
// Returns:
// - *Aperture: A pointer to the newly created Aperture instance.
// - error: An error if any of the initialization steps fail.
func NewAperture(db database.IDataSource) (*Aperture, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	newCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}

	newAperture := &Aperture{
		datasource: db,
		queue:      newQueue,
		redis:      redisClient.Client(),
		gateway:    NewHTTPProviderGateway(),
		assets:     NewS3AssetStore(configuration),
		cache:      newCache,
	}
	return newAperture, nil
}

// SetProviderGateway swaps the outbound provider client. Used by tests.
func (a *Aperture) SetProviderGateway(gateway ProviderGateway) {
	a.gateway = gateway
}

// SetAssetStore swaps the result asset store. Used by tests.
func (a *Aperture) SetAssetStore(store AssetStore) {
	a.assets = store
}
