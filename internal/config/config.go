package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	GraceWindow time.Duration // suspend countdown before forfeit
	JWTSecret   string        // empty = guest identities
	PostgresDSN string        // empty = match results not persisted
	Dev         bool          // console logging, loose ws origin checks
}

// Load reads .env when present, then the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		GraceWindow: getDuration("SUSPEND_GRACE_SEC", 30) * time.Second,
		JWTSecret:   getEnv("JWT_SECRET", ""),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),
		Dev:         getEnv("ENV", "dev") != "production",
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getDuration(key string, fallback int) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n)
		}
	}
	return time.Duration(fallback)
}
