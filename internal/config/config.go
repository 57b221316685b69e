package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	AuthSecret  string
	CORSOrigin  string

	// Permission cache and propagation tuning.
	CacheTTL          time.Duration
	ReconcileInterval time.Duration
	SlotPollInterval  time.Duration
	RemoteTimeout     time.Duration

	// Snapshot publishing (disabled when endpoint is empty).
	SnapshotEndpoint  string
	SnapshotAccessKey string
	SnapshotSecretKey string
	SnapshotBucket    string
	SnapshotUseSSL    bool
}

func Load() Config {
	return Config{
		Addr:        getenv("CORE_ADDR", ":8791"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		AuthSecret:  getenv("SLATEBOARD_AUTH_SECRET", "slateboard-dev-secret"),
		CORSOrigin:  getenv("SLATEBOARD_CORS_ORIGIN", "*"),

		CacheTTL:          time.Duration(getenvInt("SLATEBOARD_CACHE_TTL_SECONDS", 30)) * time.Second,
		ReconcileInterval: time.Duration(getenvInt("SLATEBOARD_RECONCILE_SECONDS", 60)) * time.Second,
		SlotPollInterval:  time.Duration(getenvInt("SLATEBOARD_SLOT_POLL_MS", 250)) * time.Millisecond,
		RemoteTimeout:     time.Duration(getenvInt("SLATEBOARD_REMOTE_TIMEOUT_SECONDS", 5)) * time.Second,

		SnapshotEndpoint:  getenv("SNAPSHOT_S3_ENDPOINT", ""),
		SnapshotAccessKey: getenv("SNAPSHOT_S3_ACCESS_KEY", ""),
		SnapshotSecretKey: getenv("SNAPSHOT_S3_SECRET_KEY", ""),
		SnapshotBucket:    getenv("SNAPSHOT_S3_BUCKET", "slateboard-snapshots"),
		SnapshotUseSSL:    getenvBool("SNAPSHOT_S3_USE_SSL", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
