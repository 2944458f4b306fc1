package config

import (
	"github.com/joho/godotenv"
)

type Config interface {
	EnvConfig
	ClientConfig
	StorageConfig
}

type mainConfig struct {
	EnvVars
	Client
	Storage
}

// New builds the default environment-backed configuration. A .env file in the
// working directory is loaded first when present; real environment variables
// win over .env entries.
func New() Config {
	_ = godotenv.Load()
	return mainConfig{}
}
