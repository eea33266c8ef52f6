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
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"

	"github.com/aperturehq/aperture/config"
	redis_db "github.com/aperturehq/aperture/internal/redis-db"
)

// Cache is the read-through cache used for immutable lookups, primarily
// terminal task statuses.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, data interface{}) error
	Delete(ctx context.Context, key string) error
}

type RedisCache struct {
	cache *cache.Cache
}

// local cache entries kept alongside redis
const cacheSize = 128000

func NewCache() (Cache, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	ca, err := newRedisCache([]string{fmt.Sprintf("redis://%s", cfg.Redis.Dns)})
	if err != nil {
		return nil, err
	}
	return ca, nil
}

func newRedisCache(addresses []string) (*RedisCache, error) {
	client, err := redis_db.NewRedisClient(addresses)
	if err != nil {
		return nil, err
	}

	c := cache.New(&cache.Options{
		Redis:      client.Client(),
		LocalCache: cache.NewTinyLFU(cacheSize, 1*time.Minute),
	})

	return &RedisCache{cache: c}, nil
}

// NewCacheFromClient builds a cache on top of an existing redis client. Used
// by tests with redismock.
func NewCacheFromClient(client redis.UniversalClient) Cache {
	c := cache.New(&cache.Options{
		Redis: client,
	})
	return &RedisCache{cache: c}
}

func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (r *RedisCache) Get(ctx context.Context, key string, data interface{}) error {
	err := r.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return err
	}
	return err
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.cache.Delete(ctx, key)
}
