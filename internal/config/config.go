package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every runtime setting for the service.
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Redis   RedisConfig
	Session SessionConfig
	Agent   AgentConfig
}

// Load reads the full configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		AI:      ai,
		Redis:   loadRedisConfig(),
		Session: session,
		Agent:   agent,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" and "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat-model backend.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the required model credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds the configured model instance. The returned model
// supports tool binding via WithTools.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: provide ARK_API_KEY + Model, or AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// RedisConfig describes the durable session backend. An empty URL disables
// Redis entirely; the service then runs on the local cache alone.
type RedisConfig struct {
	URL string
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{URL: getEnvOrDefault("REDIS_URL", "redis://localhost:6379")}
}

// SessionConfig bounds session lifetime.
type SessionConfig struct {
	Timeout       time.Duration
	SweepInterval time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	timeoutMinutes := 60
	if override, err := parseOptionalIntEnv("SESSION_TIMEOUT_MINUTES"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return SessionConfig{}, fmt.Errorf("SESSION_TIMEOUT_MINUTES must be positive, got %d", *override)
		}
		timeoutMinutes = *override
	}

	sweepMinutes := 5
	if override, err := parseOptionalIntEnv("SESSION_SWEEP_MINUTES"); err != nil {
		return SessionConfig{}, err
	} else if override != nil && *override > 0 {
		sweepMinutes = *override
	}

	return SessionConfig{
		Timeout:       time.Duration(timeoutMinutes) * time.Minute,
		SweepInterval: time.Duration(sweepMinutes) * time.Minute,
	}, nil
}

// AgentConfig bounds a single turn of the agent loop.
type AgentConfig struct {
	MaxIterations  int
	HistoryLimit   int
	RequestTimeout time.Duration
}

func loadAgentConfig() (AgentConfig, error) {
	maxIterations := 6
	if override, err := parseOptionalIntEnv("AGENT_MAX_ITERATIONS"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		maxIterations = *override
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("AGENT_HISTORY_LIMIT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	timeoutSeconds := 120
	if override, err := parseOptionalIntEnv("AGENT_REQUEST_TIMEOUT"); err != nil {
		return AgentConfig{}, err
	} else if override != nil && *override > 0 {
		timeoutSeconds = *override
	}

	return AgentConfig{
		MaxIterations:  maxIterations,
		HistoryLimit:   historyLimit,
		RequestTimeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
