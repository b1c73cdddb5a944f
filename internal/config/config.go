// Package config loads service configuration from a YAML file with
// environment-variable overrides. Secrets live in env vars (or a local
// .env file); the YAML file carries everything else.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the triage service.
type Config struct {
	Environment string            `yaml:"environment"` // "production" or "development"
	Server      ServerConfig      `yaml:"server"`
	Mailbox     MailboxConfig     `yaml:"mailbox"`
	Provider    ProviderConfig    `yaml:"provider"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	Rate        RateConfig        `yaml:"rate"`
	Dedup       DedupConfig       `yaml:"dedup"`
	ThreatIntel ThreatIntelConfig `yaml:"threat_intel"`
	LLM         LLMConfig         `yaml:"llm"`
	Cache       CacheConfig       `yaml:"cache"`
	Allowlist   AllowlistConfig   `yaml:"allowlist"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the listen host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// MailboxConfig describes the mailbox under observation and the poll
// fallback behavior.
type MailboxConfig struct {
	Address         string `yaml:"address"`
	CheckIntervalMs int    `yaml:"check_interval_ms"`
	LookbackMs      int    `yaml:"lookback_ms"`
	MaxPages        int    `yaml:"max_pages"`
}

// CheckInterval returns the poll interval as a duration.
func (c MailboxConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

// Lookback returns the poll lookback window as a duration.
func (c MailboxConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackMs) * time.Millisecond
}

// ProviderConfig holds mail API credentials.
type ProviderConfig struct {
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call provider timeout.
func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WebhookConfig holds push-notification subscription configuration.
type WebhookConfig struct {
	NotificationURL string `yaml:"notification_url"`
	ClientState     string `yaml:"client_state"`
	Resource        string `yaml:"resource"`
	RenewalMarginMs int    `yaml:"renewal_margin_ms"`
}

// RenewalMargin returns how long before expiry a renewal is scheduled.
func (c WebhookConfig) RenewalMargin() time.Duration {
	return time.Duration(c.RenewalMarginMs) * time.Millisecond
}

// RateConfig holds outbound-reply rate limiting configuration.
type RateConfig struct {
	MaxPerHour     int `yaml:"max_per_hour"`
	MaxPerDay      int `yaml:"max_per_day"`
	BurstThreshold int `yaml:"burst_threshold"`
	BurstWindowMs  int `yaml:"burst_window_ms"`
	BreakerResetMs int `yaml:"breaker_reset_ms"`
}

// BurstWindow returns the burst detection window.
func (c RateConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowMs) * time.Millisecond
}

// BreakerReset returns the burst breaker reset interval.
func (c RateConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMs) * time.Millisecond
}

// DedupConfig holds deduplication TTLs. Deduplication is on unless
// explicitly disabled.
type DedupConfig struct {
	Disabled         bool `yaml:"disabled"`
	ContentTTLMs     int  `yaml:"content_ttl_ms"`
	SenderCooldownMs int  `yaml:"sender_cooldown_ms"`
}

// ContentTTL returns the content-hash suppression TTL.
func (c DedupConfig) ContentTTL() time.Duration {
	return time.Duration(c.ContentTTLMs) * time.Millisecond
}

// SenderCooldown returns the per-sender cooldown window.
func (c DedupConfig) SenderCooldown() time.Duration {
	return time.Duration(c.SenderCooldownMs) * time.Millisecond
}

// ThreatIntelConfig holds reputation provider configuration.
type ThreatIntelConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URLScanKey   string `yaml:"urlscan_key"`
	AbuseIPDBKey string `yaml:"abuseipdb_key"`
	WhoisKey     string `yaml:"whois_key"`
	URLScanURL   string `yaml:"urlscan_url"`
	AbuseIPDBURL string `yaml:"abuseipdb_url"`
	WhoisURL     string `yaml:"whois_url"`
	TimeoutMs    int    `yaml:"timeout_ms"`
	CacheTTLMs   int    `yaml:"cache_ttl_ms"`
}

// Timeout returns the per-provider lookup timeout.
func (c ThreatIntelConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// CacheTTL returns how long reputation responses are cached.
func (c ThreatIntelConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMs) * time.Millisecond
}

// LLMConfig holds explanation model configuration.
type LLMConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ModelID          string `yaml:"model_id"`
	Region           string `yaml:"region"`
	DemoMode         bool   `yaml:"demo_mode"`
	TimeoutMs        int    `yaml:"timeout_ms"`
	Retries          int    `yaml:"retries"`
	BreakerThreshold int    `yaml:"breaker_threshold"`
	BreakerResetMs   int    `yaml:"breaker_reset_ms"`
}

// Timeout returns the per-call model timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// BreakerReset returns the explainer breaker reset window.
func (c LLMConfig) BreakerReset() time.Duration {
	return time.Duration(c.BreakerResetMs) * time.Millisecond
}

// CacheConfig holds distributed cache configuration. An empty URL means
// the service runs on the in-process cache only (single replica).
type CacheConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AllowlistConfig restricts which senders are triaged.
type AllowlistConfig struct {
	Emails  []string `yaml:"emails"`
	Domains []string `yaml:"domains"`
}

// PipelineConfig holds concurrency bounds for the orchestrator and queue.
type PipelineConfig struct {
	ParallelLimit int `yaml:"parallel_limit"`
	Concurrency   int `yaml:"queue_concurrency"`
	MaxRetries    int `yaml:"queue_max_retries"`
	BackoffMs     int `yaml:"queue_backoff_ms"`
	MaxBackoffMs  int `yaml:"queue_max_backoff_ms"`
}

// Backoff returns the queue retry base backoff.
func (c PipelineConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffMs) * time.Millisecond
}

// MaxBackoff returns the queue retry backoff cap.
func (c PipelineConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// Load reads and parses the configuration file and applies defaults.
// A missing file is not an error: defaults plus environment overrides
// are enough to run.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := &Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = 30
	}
	if cfg.Mailbox.CheckIntervalMs == 0 {
		cfg.Mailbox.CheckIntervalMs = 300000 // 5m
	}
	if cfg.Mailbox.LookbackMs == 0 {
		cfg.Mailbox.LookbackMs = 900000 // 15m
	}
	if cfg.Mailbox.MaxPages == 0 {
		cfg.Mailbox.MaxPages = 5
	}
	if cfg.Webhook.RenewalMarginMs == 0 {
		cfg.Webhook.RenewalMarginMs = 3600000 // 1h
	}
	if cfg.Rate.MaxPerHour == 0 {
		cfg.Rate.MaxPerHour = 30
	}
	if cfg.Rate.MaxPerDay == 0 {
		cfg.Rate.MaxPerDay = 200
	}
	if cfg.Rate.BurstThreshold == 0 {
		cfg.Rate.BurstThreshold = 10
	}
	if cfg.Rate.BurstWindowMs == 0 {
		cfg.Rate.BurstWindowMs = 600000 // 10m
	}
	if cfg.Rate.BreakerResetMs == 0 {
		cfg.Rate.BreakerResetMs = 1800000 // 30m
	}
	if cfg.Dedup.ContentTTLMs == 0 {
		cfg.Dedup.ContentTTLMs = 3600000 // 1h
	}
	if cfg.Dedup.SenderCooldownMs == 0 {
		cfg.Dedup.SenderCooldownMs = 300000 // 5m
	}
	if cfg.ThreatIntel.URLScanURL == "" {
		cfg.ThreatIntel.URLScanURL = "https://urlscan.io/api/v1"
	}
	if cfg.ThreatIntel.AbuseIPDBURL == "" {
		cfg.ThreatIntel.AbuseIPDBURL = "https://api.abuseipdb.com/api/v2"
	}
	if cfg.ThreatIntel.WhoisURL == "" {
		cfg.ThreatIntel.WhoisURL = "https://www.whoisxmlapi.com/whoisserver/WhoisService"
	}
	if cfg.ThreatIntel.TimeoutMs == 0 {
		cfg.ThreatIntel.TimeoutMs = 5000
	}
	if cfg.ThreatIntel.CacheTTLMs == 0 {
		cfg.ThreatIntel.CacheTTLMs = 3600000
	}
	if cfg.LLM.ModelID == "" {
		cfg.LLM.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if cfg.LLM.Region == "" {
		cfg.LLM.Region = "us-east-1"
	}
	if cfg.LLM.TimeoutMs == 0 {
		cfg.LLM.TimeoutMs = 20000
	}
	if cfg.LLM.Retries == 0 {
		cfg.LLM.Retries = 2
	}
	if cfg.LLM.BreakerThreshold == 0 {
		cfg.LLM.BreakerThreshold = 5
	}
	if cfg.LLM.BreakerResetMs == 0 {
		cfg.LLM.BreakerResetMs = 60000
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "triage"
	}
	if cfg.Pipeline.ParallelLimit == 0 {
		cfg.Pipeline.ParallelLimit = 5
	}
	if cfg.Pipeline.Concurrency == 0 {
		cfg.Pipeline.Concurrency = 2
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.BackoffMs == 0 {
		cfg.Pipeline.BackoffMs = 5000
	}
	if cfg.Pipeline.MaxBackoffMs == 0 {
		cfg.Pipeline.MaxBackoffMs = 300000
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is read first so secrets can live there locally
// and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TRIAGE_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("MAILBOX_ADDRESS"); v != "" {
		cfg.Mailbox.Address = v
	}
	if v := os.Getenv("PROVIDER_TENANT_ID"); v != "" {
		cfg.Provider.TenantID = v
	}
	if v := os.Getenv("PROVIDER_CLIENT_ID"); v != "" {
		cfg.Provider.ClientID = v
	}
	if v := os.Getenv("PROVIDER_CLIENT_SECRET"); v != "" {
		cfg.Provider.ClientSecret = v
	}
	if v := os.Getenv("WEBHOOK_NOTIFICATION_URL"); v != "" {
		cfg.Webhook.NotificationURL = v
	}
	if v := os.Getenv("WEBHOOK_CLIENT_STATE"); v != "" {
		cfg.Webhook.ClientState = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.URL = v
	}
	if v := os.Getenv("URLSCAN_API_KEY"); v != "" {
		cfg.ThreatIntel.URLScanKey = v
	}
	if v := os.Getenv("ABUSEIPDB_API_KEY"); v != "" {
		cfg.ThreatIntel.AbuseIPDBKey = v
	}
	if v := os.Getenv("WHOIS_API_KEY"); v != "" {
		cfg.ThreatIntel.WhoisKey = v
	}
	if v := os.Getenv("LLM_MODEL_ID"); v != "" {
		cfg.LLM.ModelID = v
	}
	if v := os.Getenv("LLM_DEMO_MODE"); v != "" {
		cfg.LLM.DemoMode, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("ALLOWLIST_EMAILS"); v != "" {
		cfg.Allowlist.Emails = splitList(v)
	}
	if v := os.Getenv("ALLOWLIST_DOMAINS"); v != "" {
		cfg.Allowlist.Domains = splitList(v)
	}

	// The subscription resource follows the monitored mailbox unless
	// configured explicitly.
	if cfg.Webhook.Resource == "" && cfg.Mailbox.Address != "" {
		cfg.Webhook.Resource = fmt.Sprintf("/users/%s/messages", cfg.Mailbox.Address)
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsProduction reports whether the service runs with production policies
// (fail-closed guardrails, fatal missing config).
func (cfg *Config) IsProduction() bool {
	return strings.EqualFold(cfg.Environment, "production")
}

// Validate checks required keys. In production, a missing key is an error
// naming the key so startup can fail loudly.
func (cfg *Config) Validate() error {
	if !cfg.IsProduction() {
		return nil
	}
	required := []struct {
		key string
		val string
	}{
		{"mailbox.address", cfg.Mailbox.Address},
		{"provider.tenant_id", cfg.Provider.TenantID},
		{"provider.client_id", cfg.Provider.ClientID},
		{"provider.client_secret", cfg.Provider.ClientSecret},
		{"webhook.notification_url", cfg.Webhook.NotificationURL},
		{"webhook.client_state", cfg.Webhook.ClientState},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return fmt.Errorf("missing required configuration key %q", r.key)
		}
	}
	return nil
}
