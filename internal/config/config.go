package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file named by MEMLAYER_ENV (or .env by default),
// then the matching .secret sidecar if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MEMLAYER_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	// Missing files are fine; the environment may already be set.
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// LogLevel returns the log level (debug, info, warn, error).
// Defaults to "info" if not set.
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}

// RateLimitRPS returns requests per second limit.
// Defaults to 100 if not set.
func RateLimitRPS() float64 {
	return floatEnv("RATE_LIMIT_RPS", 100, func(v float64) bool { return v > 0 })
}

// RateLimitBurst returns the burst size for rate limiting.
// Defaults to 20 if not set.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

func JWTSecret() string {
	return os.Getenv("JWT_SECRET")
}

func JWTIssuer() string {
	iss := os.Getenv("JWT_ISSUER")
	if iss == "" {
		return "memlayer"
	}
	return iss
}

// RedisURL is empty when change notifications stay in-process.
func RedisURL() string {
	return os.Getenv("REDIS_URL")
}

func RedisChannelPrefix() string {
	p := os.Getenv("REDIS_CHANNEL_PREFIX")
	if p == "" {
		return "memlayer"
	}
	return p
}

// GateThreshold is the confidence at or above which candidates auto-commit.
func GateThreshold() float64 {
	return floatEnv("GATE_THRESHOLD", 0.8, unit)
}

func GateAutoStore() bool {
	return boolEnv("GATE_AUTO_STORE", true)
}

func GateRequireReview() bool {
	return boolEnv("GATE_REQUIRE_REVIEW", true)
}

// AuditReads turns on read auditing. COMPLIANCE_MODE=true implies it.
func AuditReads() bool {
	return boolEnv("AUDIT_READS", false) || boolEnv("COMPLIANCE_MODE", false)
}

// UnredactPolicy returns the raw policy name; an empty value means the
// irreversible default.
func UnredactPolicy() string {
	return os.Getenv("UNREDACT_POLICY")
}

// DefaultDecayRate is in strength units per hour.
func DefaultDecayRate() float64 {
	return floatEnv("DEFAULT_DECAY_RATE", 0.01, func(v float64) bool { return v >= 0 })
}

func DefaultImportance() float64 {
	return floatEnv("DEFAULT_IMPORTANCE", 0.5, unit)
}

func ContextTopK() int {
	k, err := strconv.Atoi(os.Getenv("CONTEXT_TOP_K"))
	if err != nil || k <= 0 {
		return 5
	}
	return k
}

func ContextWeightStrength() float64 {
	return floatEnv("CONTEXT_WEIGHT_STRENGTH", 0.4, nonNegative)
}

func ContextWeightImportance() float64 {
	return floatEnv("CONTEXT_WEIGHT_IMPORTANCE", 0.3, nonNegative)
}

func ContextWeightMatch() float64 {
	return floatEnv("CONTEXT_WEIGHT_MATCH", 0.3, nonNegative)
}

// MatchProvider selects the query matcher.
// Valid values: lexical, embedding
func MatchProvider() string {
	p := os.Getenv("MATCH_PROVIDER")
	if p == "" {
		return "lexical"
	}
	return p
}

// EmbeddingProvider returns the configured embedding provider.
// Empty disables embeddings. Valid values: openai, mock
func EmbeddingProvider() string {
	return os.Getenv("EMBEDDING_PROVIDER")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func EmbeddingBaseURL() string {
	return os.Getenv("EMBEDDING_BASE_URL")
}

// EmbeddingAPIKey returns the API key for the configured embedding provider.
func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock", "":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

func ExpirerInterval() time.Duration {
	return durationEnv("EXPIRER_INTERVAL", time.Minute)
}

// PendingTTL is how long a queued candidate may wait for review. Zero keeps
// candidates until a reviewer acts.
func PendingTTL() time.Duration {
	return durationEnv("PENDING_TTL", 0)
}

func NotifyBuffer() int {
	n, err := strconv.Atoi(os.Getenv("NOTIFY_BUFFER"))
	if err != nil || n <= 0 {
		return 256
	}
	return n
}

func RoleCacheTTL() time.Duration {
	return durationEnv("ROLE_CACHE_TTL", 5*time.Minute)
}

func floatEnv(key string, def float64, ok func(float64) bool) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || !ok(v) {
		return def
	}
	return v
}

func boolEnv(key string, def bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func durationEnv(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d < 0 {
		return def
	}
	return d
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func nonNegative(v float64) bool { return v >= 0 }
