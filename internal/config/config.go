// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every configurable knob of the service.
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	OpenRouter OpenRouterConfig
	Search     SearchConfig
	Storage    StorageConfig
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	openRouter, err := loadOpenRouterConfig()
	if err != nil {
		return nil, err
	}

	search, err := loadSearchConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Auth:       auth,
		OpenRouter: openRouter,
		Search:     search,
		Storage:    StorageConfig{Path: getEnvOrDefault("DB_PATH", "lumen.db")},
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr       string
	CORSOrigin string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	cors := getEnvOrDefault("CORS_ORIGIN", "*")

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port, CORSOrigin: cors}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CORSOrigin: cors}, nil
}

// AuthConfig describes token signing and lifetime.
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

func loadAuthConfig() (AuthConfig, error) {
	expiryDays := 30
	if override, err := parseOptionalIntEnv("JWT_EXPIRY_DAYS"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AuthConfig{}, fmt.Errorf("invalid JWT_EXPIRY_DAYS value: %d", *override)
		}
		expiryDays = *override
	}

	return AuthConfig{
		JWTSecret:   getEnvOrDefault("JWT_SECRET", "default-secret-key"),
		TokenExpiry: time.Duration(expiryDays) * 24 * time.Hour,
	}, nil
}

// OpenRouterConfig describes the completion backend.
type OpenRouterConfig struct {
	APIKey         string
	BaseURL        string
	SiteURL        string
	SiteName       string
	ReasoningModel string
	DefaultModel   string
	CallTimeout    time.Duration
	IdleWindow     time.Duration
}

func loadOpenRouterConfig() (OpenRouterConfig, error) {
	callTimeout, err := parseOptionalIntEnv("OPENROUTER_TIMEOUT")
	if err != nil {
		return OpenRouterConfig{}, err
	}
	callTimeoutSeconds := 120
	if callTimeout != nil {
		callTimeoutSeconds = *callTimeout
	}

	idle, err := parseOptionalIntEnv("OPENROUTER_IDLE_WINDOW")
	if err != nil {
		return OpenRouterConfig{}, err
	}
	idleSeconds := 60
	if idle != nil {
		idleSeconds = *idle
	}

	return OpenRouterConfig{
		APIKey:         strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")),
		BaseURL:        getEnvOrDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		SiteURL:        getEnvOrDefault("SITE_URL", "http://localhost:5173"),
		SiteName:       getEnvOrDefault("SITE_NAME", "LumenChat"),
		ReasoningModel: getEnvOrDefault("REASONING_MODEL", "moonshotai/kimi-k2:free"),
		DefaultModel:   getEnvOrDefault("DEFAULT_MODEL", "deepseek-r1"),
		CallTimeout:    time.Duration(callTimeoutSeconds) * time.Second,
		IdleWindow:     time.Duration(idleSeconds) * time.Second,
	}, nil
}

// SearchConfig describes the web search provider.
type SearchConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func loadSearchConfig() (SearchConfig, error) {
	timeout, err := parseOptionalIntEnv("SERPAPI_TIMEOUT")
	if err != nil {
		return SearchConfig{}, err
	}
	timeoutSeconds := 15
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return SearchConfig{
		APIKey:  strings.TrimSpace(os.Getenv("SERPAPI_KEY")),
		BaseURL: getEnvOrDefault("SERPAPI_BASE_URL", "https://serpapi.com/search"),
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// StorageConfig describes the SQLite database location. The value ":memory:"
// keeps everything in process memory.
type StorageConfig struct {
	Path string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
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
