package config

import (
	"os"
	"path/filepath"
)

const (
	appNameVar  = "APP_NAME"
	baseURLVar  = "PARCEL_API_BASE_URL"
	logLevelVar = "LOG_LEVEL"
)

type EnvVars struct{}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetLogLevel() string
	GetEnv() string
	GetDataFolder() string
}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Parcel Client")
}

// GetBaseURL returns the base URL of the parcel-delivery API
// (e.g. "https://api.parcel.example.com"). All auth endpoints are resolved
// relative to it.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:5000/api/v1")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv(logLevelVar, "info")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetDataFolder returns the directory holding the persisted credentials file.
// Defaults to a parcel-client folder under the user's config directory.
func (EnvVars) GetDataFolder() string {
	if folder := os.Getenv("PARCEL_DATA_FOLDER"); folder != "" {
		return folder
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(configDir, "parcel-client")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
