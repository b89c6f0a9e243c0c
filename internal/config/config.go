package config

import (
	"encoding/base64"
	"fmt"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServerAddr     string
	StoreBackend   string
	DatabaseDSN    string
	MigrationsURL  string
	SigningKey     []byte
	RedisAddr      string
	AllowedOrigins []string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, storeBackend, databaseDSN, migrationsURL, base64Secret, redisAddr string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	switch storeBackend {
	case StorePostgres:
		if databaseDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty with the postgres backend")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store backend %q", storeBackend)
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		ServerAddr:     serverAddr,
		StoreBackend:   storeBackend,
		DatabaseDSN:    databaseDSN,
		MigrationsURL:  migrationsURL,
		SigningKey:     signingKey,
		RedisAddr:      redisAddr,
		AllowedOrigins: allowedOrigins,
	}, nil
}
