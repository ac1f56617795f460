package config

import "os"

// Config holds the service configuration read from the environment.
type Config struct {
	ServerURL   string
	Env         string
	DatabaseURL string
	RedisURL    string
}

// Load reads configuration from environment variables. The .env file, if
// any, is loaded by the caller before this runs.
func Load() *Config {
	return &Config{
		ServerURL:   getEnv("SERVER_URL", ":8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
