// Package config assembles the engine's own ambient settings — storage
// backend selection, cache sizing, audit retention, authorization
// cache sizing, and a handful of runtime tunables — from layered
// Providers, independent of the workflow-definition-level config
// a host application layers on top.
package config

import "time"

// Config is the fully merged, validated configuration for one engine
// process. NewDefaultProvider supplies a default for every field except
// StoreConfig.PostgresDSN and CacheConfig.RedisAddr; later providers in
// a Manager.Load call override earlier ones field by field.
type Config struct {
	Store   StoreConfig   `koanf:"store"`
	Cache   CacheConfig   `koanf:"cache"`
	Audit   AuditConfig   `koanf:"audit"`
	Authz   AuthzConfig   `koanf:"authz"`
	Runtime RuntimeConfig `koanf:"runtime"`
}

// StoreConfig selects and parameterizes the store.Store backend.
type StoreConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `koanf:"driver" validate:"required,oneof=memory postgres"`
	// PostgresDSN is required when Driver is "postgres".
	PostgresDSN string `koanf:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// CacheConfig selects and parameterizes a cache backend. Nothing in
// this module reads it: engine/cache is a badger-backed audit snapshot
// cache with no Redis backend.
type CacheConfig struct {
	// Driver is "memory" or "redis".
	Driver string `koanf:"driver" validate:"required,oneof=memory redis"`
	// RedisAddr is required when Driver is "redis".
	RedisAddr string `koanf:"redis_addr" validate:"required_if=Driver redis"`
	// DefaultTTLSeconds bounds how long a cached entry survives
	// without being refreshed; 0 means entries never expire on their
	// own and rely solely on explicit invalidation.
	DefaultTTLSeconds int `koanf:"default_ttl_seconds" validate:"gte=0"`
}

// DefaultTTL is DefaultTTLSeconds as a time.Duration. Duration fields
// are deliberately not decoded directly off koanf (the engine's
// providers only carry plain scalars), so every *Seconds setting gets
// a matching accessor instead.
func (c CacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// AuditConfig parameterizes span retention and reconstruction
// snapshotting (engine/audit).
type AuditConfig struct {
	// RetentionSeconds bounds how long a workflow's span history is
	// kept before it becomes eligible for compaction; 0 disables
	// compaction entirely.
	RetentionSeconds int `koanf:"retention_seconds" validate:"gte=0"`
	// SnapshotIntervalSeconds governs how often a running workflow's
	// marking is snapshotted rather than reconstructed from scratch.
	SnapshotIntervalSeconds int `koanf:"snapshot_interval_seconds" validate:"gte=0"`
}

func (c AuditConfig) Retention() time.Duration {
	return time.Duration(c.RetentionSeconds) * time.Second
}

func (c AuditConfig) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSeconds) * time.Second
}

// AuthzConfig sizes the authorization subsystem's caches.
type AuthzConfig struct {
	// ScopeCacheSize is a size for the LRU cache AuthorizationService
	// keeps of resolved userId -> []ScopeName lookups;
	// NewAuthorizationService treats a size <= 0 as
	// auth.DefaultScopeCacheSize.
	ScopeCacheSize int `koanf:"scope_cache_size" validate:"gte=0"`
	// PolicyCacheSize is a size for the cache of compiled CEL policy
	// programs; auth.PolicyCache itself has no size bound.
	PolicyCacheSize int `koanf:"policy_cache_size" validate:"gte=0"`
}

// RuntimeConfig holds workflow-engine tunables unrelated to any single
// subsystem.
type RuntimeConfig struct {
	// Environment is "development" or "production"; hosts use it to
	// gate verbose logging and strict validation.
	Environment string `koanf:"environment" validate:"required,oneof=development production"`
	// MaxFixpointIterations is an iteration cap for driveFixpoint's
	// re-evaluation loop. driveFixpoint does not read it and has no
	// cap of its own.
	MaxFixpointIterations int `koanf:"max_fixpoint_iterations" validate:"gt=0"`
	// DispatcherHeartbeatIntervalSeconds governs how often a host's
	// work-item dispatcher polls for newly offered items.
	DispatcherHeartbeatIntervalSeconds int `koanf:"dispatcher_heartbeat_interval_seconds" validate:"gt=0"`
}

func (c RuntimeConfig) DispatcherHeartbeatInterval() time.Duration {
	return time.Duration(c.DispatcherHeartbeatIntervalSeconds) * time.Second
}
