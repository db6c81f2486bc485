package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds server configuration.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	// DatabaseURL selects the journal. Empty means an in-memory SQLite
	// journal (lite mode).
	DatabaseURL string

	GeminiAPIKey string
	OracleModel  string
	OracleURL    string
	OracleRPS    float64
	OracleBurst  int
	RedisAddr    string

	PolicyFile string

	JWTSecret string
	APIRPS    int
	APIBurst  int

	OTelEnabled  bool
	OTelEndpoint string

	AgentName        string
	AgentWallet      string
	AgentDailyBudget string

	// AgentFetchPrivate lets unauthenticated API callers fetch internal
	// addresses through the agent.
	AgentFetchPrivate bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:             getenv("PORT", "8080"),
		LogLevel:         getenv("LOG_LEVEL", "INFO"),
		LogFormat:        getenv("LOG_FORMAT", "text"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		OracleModel:      getenv("ORACLE_MODEL", "gemini-pro"),
		OracleURL:        os.Getenv("ORACLE_URL"),
		OracleRPS:        getenvFloat("ORACLE_RPS", 5),
		OracleBurst:      getenvInt("ORACLE_BURST", 5),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		PolicyFile:       os.Getenv("POLICY_FILE"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		APIRPS:           getenvInt("API_RPS", 20),
		APIBurst:         getenvInt("API_BURST", 40),
		OTelEnabled:      os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:     getenv("OTEL_ENDPOINT", "localhost:4317"),
		AgentName:        getenv("AGENT_NAME", "paystream-agent"),
		AgentWallet:      getenv("AGENT_WALLET", "0xAgentWallet"),
		AgentDailyBudget: getenv("AGENT_DAILY_BUDGET", "10.00"),

		AgentFetchPrivate: os.Getenv("AGENT_FETCH_PRIVATE") == "true",
	}
}

// LiteMode reports whether the journal lives only in memory.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

// OfflineOracle reports whether decisions come from the scripted oracle.
func (c *Config) OfflineOracle() bool { return c.GeminiAPIKey == "" }

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil {
		return def
	}
	return n
}

func getenvFloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil {
		return def
	}
	return f
}
