// Package config loads the node's Configuration record (spec.md §6) from
// the environment, following the teacher's LoadFromEnv/Validate idiom.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Role distinguishes a node acting primarily as a request originator
// ("frontend") from one primarily hosting services ("backend"). Either
// role can host services and issue requests; the distinction only informs
// operational defaults (timeouts, transport addressing).
type Role string

const (
	RoleFrontend Role = "frontend"
	RoleBackend  Role = "backend"
)

// Config is the Configuration record of spec.md §6, plus the ambient
// runtime knobs (logging, transport addressing) a complete node needs.
type Config struct {
	DefaultNetworkID string   `json:"default_network_id"`
	NetworkIDs       []string `json:"network_ids"`
	RequestTimeoutMs int      `json:"request_timeout_ms"`
	Role             Role     `json:"role"`

	// LabelResolverConfig and NetworkConfig are opaque to the bus core;
	// they are threaded through to the Keystore/RemoteTransport
	// collaborators unparsed.
	LabelResolverConfig map[string]string `json:"label_resolver_config,omitempty"`
	NetworkConfig       map[string]string `json:"network_config,omitempty"`

	// ServiceStartTimeoutMs bounds each non-internal service's concurrent
	// Start call (spec.md §4.4, §5). Default 30000.
	ServiceStartTimeoutMs int `json:"service_start_timeout_ms"`

	// MaxRetainedPerTopic bounds the retained-event ring per topic
	// (spec.md §3). Default 100.
	MaxRetainedPerTopic int `json:"max_retained_per_topic"`

	LogLevel    string `json:"log_level"`
	LogFilePath string `json:"log_file_path,omitempty"`

	// NATSURL, when set, is used by the NATS-backed RemoteTransport.
	NATSURL string `json:"nats_url,omitempty"`

	// HTTPAdminAddr, when set, starts the HTTP admin server.
	HTTPAdminAddr string `json:"http_admin_addr,omitempty"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		DefaultNetworkID:      "local",
		NetworkIDs:            []string{"local"},
		RequestTimeoutMs:      30000,
		Role:                  RoleBackend,
		ServiceStartTimeoutMs: 30000,
		MaxRetainedPerTopic:   100,
		LogLevel:              "info",
		NATSURL:               "nats://127.0.0.1:4222",
	}
}

// LoadFromEnv overlays environment variables, prefixed NODE_, onto Default().
func LoadFromEnv() *Config {
	cfg := Default()

	cfg.DefaultNetworkID = getenvStr("NODE_DEFAULT_NETWORK_ID", cfg.DefaultNetworkID)
	if ids := os.Getenv("NODE_NETWORK_IDS"); ids != "" {
		cfg.NetworkIDs = strings.Split(ids, ",")
	}
	cfg.RequestTimeoutMs = getenvInt("NODE_REQUEST_TIMEOUT_MS", cfg.RequestTimeoutMs)
	cfg.Role = Role(getenvStr("NODE_ROLE", string(cfg.Role)))
	cfg.ServiceStartTimeoutMs = getenvInt("NODE_SERVICE_START_TIMEOUT_MS", cfg.ServiceStartTimeoutMs)
	cfg.MaxRetainedPerTopic = getenvInt("NODE_MAX_RETAINED_PER_TOPIC", cfg.MaxRetainedPerTopic)
	cfg.LogLevel = getenvStr("NODE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFilePath = getenvStr("NODE_LOG_FILE", cfg.LogFilePath)
	cfg.NATSURL = getenvStr("NODE_NATS_URL", cfg.NATSURL)
	cfg.HTTPAdminAddr = getenvStr("NODE_HTTP_ADMIN_ADDR", cfg.HTTPAdminAddr)

	return cfg
}

// MustLoadFromEnv panics if the loaded config is invalid.
func MustLoadFromEnv() *Config {
	cfg := LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
	return cfg
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.DefaultNetworkID == "" {
		problems = append(problems, "default_network_id is required")
	}
	if c.RequestTimeoutMs <= 0 {
		problems = append(problems, "request_timeout_ms must be positive")
	}
	if c.Role != RoleFrontend && c.Role != RoleBackend {
		problems = append(problems, fmt.Sprintf("role %q must be frontend or backend", c.Role))
	}
	if c.ServiceStartTimeoutMs <= 0 {
		problems = append(problems, "service_start_timeout_ms must be positive")
	}
	if c.MaxRetainedPerTopic <= 0 {
		problems = append(problems, "max_retained_per_topic must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getenvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}
