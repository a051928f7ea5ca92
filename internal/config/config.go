package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	// HistoryDir holds one git repository per plan. Empty disables history.
	HistoryDir     string
	CORSOrigin     string
	MeiliURL       string
	MeiliMasterKey string
	// RedisURL enables cross-process change notices. Empty keeps them in
	// process.
	RedisURL string

	WriteTimeout time.Duration
	PollInterval time.Duration

	// Gateway settings for clients such as planctl.
	GatewayKind     string
	GatewayEndpoint string
}

func Load() Config {
	return Config{
		Addr:            getenv("API_ADDR", ":8787"),
		DatabaseURL:     getenv("DATABASE_URL", "sqlite://./data/plans.db"),
		HistoryDir:      getenv("PLAN_HISTORY_DIR", ""),
		CORSOrigin:      getenv("PLAN_CORS_ORIGIN", "*"),
		MeiliURL:        getenv("MEILI_URL", ""),
		MeiliMasterKey:  getenv("MEILI_MASTER_KEY", ""),
		RedisURL:        getenv("REDIS_URL", ""),
		WriteTimeout:    time.Duration(getenvInt("PLAN_WRITE_TIMEOUT_SECONDS", 20)) * time.Second,
		PollInterval:    time.Duration(getenvInt("PLAN_POLL_INTERVAL_SECONDS", 15)) * time.Second,
		GatewayKind:     getenv("PLAN_GATEWAY", ""),
		GatewayEndpoint: getenv("PLAN_ENDPOINT", ""),
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
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
