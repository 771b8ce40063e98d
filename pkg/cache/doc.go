// Package cache keeps slow-changing reporting API listings, such as the
// category catalogue, in Redis.
//
// Activity pages are never cached: every window fetch must reach the API.
// The category list changes rarely and is read on every run to resolve
// labels into ids, so one copy is shared by all runs of a tenant.
//
// An entry is fresh for its TTL and then kept as a stale copy for
// Manager.StaleFor. When reloading fails, the stale copy is served instead of
// failing the run.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//	key := cache.Key{Endpoint: "/reports/v2/categories", Scope: "default"}
//
//	body, cacheErr, err := manager.GetOrLoad(ctx, key, time.Hour, fetchCategories)
//
// # Metrics
//
//   - activity_cache_lookups_total{result} (hit, miss, stale)
//   - activity_cache_errors_total{operation}
//   - activity_cache_stored_bytes
package cache
