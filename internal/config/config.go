package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds process-level settings read once at startup. Anything the
// agent may change at runtime lives in AgentConfig instead.
type Config struct {
	ListenAddr      string
	StateFile       string
	AgentConfigFile string
	LogFile         string
	MaxLogSizeMB    int64
	MaxLogBackups   int

	// Inference backend: any OpenAI-compatible chat completion endpoint.
	InferenceURL     string
	InferenceAPIKey  string
	InferenceTimeout time.Duration

	// Alpaca credentials. When absent the simulator backend is selected.
	AlpacaKey    string
	AlpacaSecret string

	LockTimeout time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8000"),
		StateFile:        getEnv("STATE_FILE", "finsight_state.json"),
		AgentConfigFile:  getEnv("AGENT_CONFIG_FILE", "agent_config.json"),
		LogFile:          getEnv("LOG_FILE", "finsight.log"),
		MaxLogSizeMB:     getEnvInt64("MAX_LOG_SIZE_MB", 10),
		MaxLogBackups:    int(getEnvInt64("MAX_LOG_BACKUPS", 3)),
		InferenceURL:     getEnv("INFERENCE_URL", "http://localhost:11434/v1"),
		InferenceAPIKey:  os.Getenv("INFERENCE_API_KEY"),
		InferenceTimeout: time.Duration(getEnvInt64("INFERENCE_TIMEOUT_SEC", 60)) * time.Second,
		AlpacaKey:        os.Getenv("APCA_API_KEY_ID"),
		AlpacaSecret:     os.Getenv("APCA_API_SECRET_KEY"),
		LockTimeout:      time.Duration(getEnvInt64("LOCK_TIMEOUT_SEC", 5)) * time.Second,
	}

	if cfg.AlpacaKey == "" || cfg.AlpacaSecret == "" {
		log.Println("APCA_API_KEY_ID/SECRET not found. Switching to LOCAL SIMULATION.")
	}

	return cfg
}

// LiveTrading reports whether brokerage credentials are configured. The
// execution backend is chosen from this exactly once, at startup.
func (c *Config) LiveTrading() bool {
	return c.AlpacaKey != "" && c.AlpacaSecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

// AgentConfig is the runtime-mutable agent configuration. It is persisted in
// its own JSON file, replaced atomically on every update, and re-read by the
// agent loop at the start of each cycle so changes apply on the next tick.
type AgentConfig struct {
	Enabled         bool            `json:"autonomous_enabled"`
	Model           string          `json:"model"`
	Watchlist       []string        `json:"watchlist"`
	CapitalLimit    decimal.Decimal `json:"agent_capital"`
	IntervalMinutes int             `json:"interval_minutes"`
}

// Interval returns the cycle sleep duration, never below one minute.
func (a AgentConfig) Interval() time.Duration {
	mins := a.IntervalMinutes
	if mins < 1 {
		mins = 5
	}
	return time.Duration(mins) * time.Minute
}

// DefaultAgentConfig matches the bootstrap defaults of a fresh deployment.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Enabled:         true,
		Model:           getEnv("INFERENCE_MODEL", "llama3.1"),
		Watchlist:       []string{"AAPL", "NVDA", "BTC-USD", "TSLA"},
		IntervalMinutes: 5,
	}
}
