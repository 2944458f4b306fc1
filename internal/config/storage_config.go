package config

import (
	"path/filepath"
	"time"
)

type StorageConfig interface {
	GetCredentialsFile() string
	GetCredentialsKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetTokenTTL() time.Duration
	GetWatchInterval() time.Duration
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetCredentialsFile returns the path of the encrypted credentials file.
func (Storage) GetCredentialsFile() string {
	if file := GetEnv("PARCEL_CREDENTIALS_FILE", ""); file != "" {
		return file
	}
	return filepath.Join(EnvVars{}.GetDataFolder(), "credentials.json")
}

// GetCredentialsKey returns the hex-encoded 32-byte key used to encrypt the
// credentials file at rest. Empty disables encryption (plaintext file).
func (Storage) GetCredentialsKey() string {
	return GetEnv("PARCEL_CREDENTIALS_KEY", "")
}

// GetRedisAddr returns the address of the optional secondary token backend.
// Empty disables the secondary backend entirely.
func (Storage) GetRedisAddr() string {
	return GetEnv("PARCEL_REDIS_ADDR", "")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("PARCEL_REDIS_PASSWORD", "")
}

// GetTokenTTL is the expiry applied to token keys in the secondary backend,
// the equivalent of cookie expiry attributes. The primary file backend never
// expires entries.
func (Storage) GetTokenTTL() time.Duration {
	if v := GetEnv("PARCEL_TOKEN_TTL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 7 * 24 * time.Hour
}

// GetWatchInterval is the polling interval of the file backend's
// change watcher.
func (Storage) GetWatchInterval() time.Duration {
	if v := GetEnv("PARCEL_WATCH_INTERVAL", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 2 * time.Second
}
