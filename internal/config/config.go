package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	APIBase   string
	WSURL     string
	StateDir  string
	JWTSecret string
}

func Load() Config {
	return Config{
		APIBase:   getenv("SHOPIN_API_BASE", "http://localhost:3000/api"),
		WSURL:     getenv("SHOPIN_WS_URL", "ws://localhost:3001/ws"),
		StateDir:  getenv("SHOPIN_STATE_DIR", defaultStateDir()),
		JWTSecret: getenv("SHOPIN_JWT_SECRET", "dev-secret"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shopin"
	}
	return filepath.Join(home, ".shopin")
}
