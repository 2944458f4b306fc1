package config

import (
	"strconv"
	"time"
)

// RestorePolicy selects the startup behaviour of the session coordinator.
type RestorePolicy string

const (
	// RestoreHardReset clears all credentials on startup so every fresh run
	// requires a new login.
	RestoreHardReset RestorePolicy = "hard-reset"
	// RestoreOptimistic restores the session from cached credentials
	// immediately and verifies it against the server in the background.
	RestoreOptimistic RestorePolicy = "optimistic"
)

type ClientConfig interface {
	GetHTTPTimeout() time.Duration
	GetRestorePolicy() RestorePolicy
	GetDevtoolsEnabled() bool
	GetMetricsEnabled() bool
}

type Client struct{}

var _ ClientConfig = Client{}

func (Client) GetHTTPTimeout() time.Duration {
	if v := GetEnv("PARCEL_HTTP_TIMEOUT", ""); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 30 * time.Second
}

func (Client) GetRestorePolicy() RestorePolicy {
	if GetEnv("PARCEL_RESTORE_POLICY", "optimistic") == string(RestoreHardReset) {
		return RestoreHardReset
	}
	return RestoreOptimistic
}

func (Client) GetDevtoolsEnabled() bool {
	enabled, _ := strconv.ParseBool(GetEnv("PARCEL_DEVTOOLS", "false"))
	return enabled
}

func (Client) GetMetricsEnabled() bool {
	enabled, _ := strconv.ParseBool(GetEnv("PARCEL_METRICS", "false"))
	return enabled
}
