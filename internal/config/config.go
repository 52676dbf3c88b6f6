package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port         string
	Environment  string
	DatabasePath string // SQLite file path
	RedisURL     string // optional, enables cross-instance event fan-out

	JWTSecret            string
	OperatorPasswordHash string // argon2id hash for the local operator login

	// LLM provider (OpenAI-compatible streaming API)
	LLMBaseURL        string
	LLMAPIKey         string
	LLMModel          string
	LLMContextTokens  int // model context window used by the compaction trigger
	LLMRequestsPerMin int

	// Console interpreter
	ConsoleCommand        []string // argv of the long-running interpreter
	ConsolePrompt         string   // prompt suffix marking the console as ready
	ConsoleStartupTimeout time.Duration

	// Tool approval policy
	ToolPolicyPath      string // YAML file, hot-reloaded
	AutonomousByDefault bool

	// System prompt prepended to every LLM request
	SystemPrompt string

	// Maintenance jobs
	CompactionSweepCron  string
	SessionRetentionDays int
}

const defaultSystemPrompt = "You are a security research assistant operating inside an " +
	"authorized engagement. You drive a long-running console and a set of network tools. " +
	"Work methodically: state what you are about to do, run one step at a time, and record " +
	"findings in working memory as you go. Never target systems outside the engagement scope."

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "3001"),
		Environment:  strings.ToLower(getEnv("ENVIRONMENT", "development")),
		DatabasePath: getEnv("DATABASE_PATH", "redline.db"),
		RedisURL:     getEnv("REDIS_URL", ""),

		JWTSecret:            getEnv("JWT_SECRET", ""),
		OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),

		LLMBaseURL:        getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:         getEnv("LLM_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o"),
		LLMContextTokens:  getIntEnv("LLM_CONTEXT_TOKENS", 128000),
		LLMRequestsPerMin: getIntEnv("LLM_REQUESTS_PER_MINUTE", 30),

		ConsoleCommand:        splitCommand(getEnv("CONSOLE_COMMAND", "msfconsole -q")),
		ConsolePrompt:         getEnv("CONSOLE_PROMPT", "> "),
		ConsoleStartupTimeout: getDurationEnv("CONSOLE_STARTUP_TIMEOUT", 90*time.Second),

		ToolPolicyPath:      getEnv("TOOL_POLICY_PATH", "tool_policy.yaml"),
		AutonomousByDefault: getBoolEnv("AUTONOMOUS_BY_DEFAULT", false),

		SystemPrompt: getEnv("SYSTEM_PROMPT", defaultSystemPrompt),

		CompactionSweepCron:  getEnv("COMPACTION_SWEEP_CRON", "*/10 * * * *"),
		SessionRetentionDays: getIntEnv("SESSION_RETENTION_DAYS", 30),
	}
}

func splitCommand(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return []string{"sh"}
	}
	return fields
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
