package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level router configuration.
type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Registry  RegistryConfig  `yaml:"registry"`
	Routing   RoutingConfig   `yaml:"routing"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Includes  []string        `yaml:"includes,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source,omitempty"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"` // 0 or 1 = always sample
}

// RegistryConfig selects where agents and skill files come from.
type RegistryConfig struct {
	Source        string        `yaml:"source"` // "builtin" or "file"
	Dir           string        `yaml:"dir"`
	SchemaDir     string        `yaml:"schema_dir,omitempty"` // overrides the embedded schemas
	LoadTimeout   time.Duration `yaml:"load_timeout"`
	Watch         bool          `yaml:"watch"`
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// RoutingConfig names the fallback and escalation agents.
type RoutingConfig struct {
	FallbackAgent       string  `yaml:"fallback_agent"`
	ImplementationAgent string  `yaml:"implementation_agent"`
	PlanningAgent       string  `yaml:"planning_agent"`
	EscalationMinScore  float64 `yaml:"escalation_min_score"`
}

// CacheConfig holds decision cache settings.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TTL           time.Duration `yaml:"ttl"`
	LocalSize     int           `yaml:"local_size"`
	RollingWindow int           `yaml:"rolling_window"`
	Backend       string        `yaml:"backend"` // "none", "redis", "sqlite"
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	Redis         RedisConfig   `yaml:"redis"`
	SQLitePath    string        `yaml:"sqlite_path"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// RedisConfig holds the durable cache connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password,omitempty"` // may be "enc:..."
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// BreakerConfig holds circuit breaker settings for a durable dependency.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`  // open -> half-open
	Interval    time.Duration `yaml:"interval"` // closed-state counter reset
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Sink         string        `yaml:"sink"` // "memory", "sqlite", "jsonl"
	Path         string        `yaml:"path"`
	Retention    time.Duration `yaml:"retention"` // recent window age
	RecentSize   int           `yaml:"recent_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TextLimit    int           `yaml:"text_limit"`
	Breaker      BreakerConfig `yaml:"breaker"`

	// DurableRetention prunes the durable sink via the audit_prune action.
	// Zero keeps durable records indefinitely.
	DurableRetention time.Duration `yaml:"durable_retention,omitempty"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	RateLimit    float64       `yaml:"rate_limit"` // requests per second per client, 0 = off
	RateBurst    int           `yaml:"rate_burst"`
	Auth         AuthConfig    `yaml:"auth"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway bearer token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// SchedulerConfig holds housekeeping job settings.
type SchedulerConfig struct {
	Enabled bool                  `yaml:"enabled"`
	Tasks   []ScheduledTaskConfig `yaml:"tasks"`
}

// ScheduledTaskConfig defines a single scheduled task.
type ScheduledTaskConfig struct {
	Name     string        `yaml:"name"`
	Schedule string        `yaml:"schedule"` // cron expression or duration string
	Action   string        `yaml:"action"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

// defaultDataDir returns the persistent data directory under $HOME/.openclaw/data.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".openclaw", "data")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	breaker := BreakerConfig{MaxFailures: 5, Timeout: 30 * time.Second, Interval: time.Minute}
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter:    "noop",
			ServiceName: "openclaw-router",
		},
		Registry: RegistryConfig{
			Source:        "builtin",
			Dir:           "./skills",
			LoadTimeout:   10 * time.Second,
			WatchDebounce: 250 * time.Millisecond,
		},
		Routing: RoutingConfig{
			FallbackAgent:       "project_manager",
			ImplementationAgent: "coder_agent",
			PlanningAgent:       "project_manager",
			EscalationMinScore:  20,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			LocalSize:     10000,
			RollingWindow: 1024,
			Backend:       "none",
			ReadTimeout:   50 * time.Millisecond,
			WriteTimeout:  2 * time.Second,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				KeyPrefix: "openclaw:route:",
			},
			SQLitePath: filepath.Join(dataDir, "cache.db"),
			Breaker:    breaker,
		},
		Audit: AuditConfig{
			Enabled:      true,
			Sink:         "sqlite",
			Path:         filepath.Join(dataDir, "audit.db"),
			Retention:    30 * 24 * time.Hour,
			RecentSize:   1000,
			WriteTimeout: 5 * time.Second,
			TextLimit:    200,
			Breaker:      breaker,
		},
		Gateway: GatewayConfig{
			Enabled:      true,
			Addr:         "127.0.0.1:8780",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			MaxBodyBytes: 64 * 1024,
			RateLimit:    20,
			RateBurst:    40,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
			Tasks: []ScheduledTaskConfig{
				{Name: "audit-retention", Schedule: "1h", Action: "audit_prune"},
				{Name: "cache-sweep", Schedule: "10m", Action: "cache_sweep"},
			},
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass picks up the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		if err := newIncludeResolver(absPath).apply(cfg, filepath.Dir(absPath), 0); err != nil {
			return nil, err
		}

		// The main file takes precedence over its includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("OPENCLAW_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps OPENCLAW_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENCLAW_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("OPENCLAW_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("OPENCLAW_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("OPENCLAW_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	if v := os.Getenv("OPENCLAW_REGISTRY_SOURCE"); v != "" {
		cfg.Registry.Source = v
	}
	if v := os.Getenv("OPENCLAW_REGISTRY_DIR"); v != "" {
		cfg.Registry.Dir = v
	}
	if v := os.Getenv("OPENCLAW_REGISTRY_WATCH"); v != "" {
		cfg.Registry.Watch = v == "true"
	}

	if v := os.Getenv("OPENCLAW_ROUTING_FALLBACK_AGENT"); v != "" {
		cfg.Routing.FallbackAgent = v
	}
	if v := os.Getenv("OPENCLAW_ROUTING_ESCALATION_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Routing.EscalationMinScore = f
		}
	}

	if v := os.Getenv("OPENCLAW_CACHE_ENABLED"); v == "false" {
		cfg.Cache.Enabled = false
	}
	if v := os.Getenv("OPENCLAW_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Cache.TTL = d
		}
	}
	if v := os.Getenv("OPENCLAW_CACHE_BACKEND"); v != "" {
		cfg.Cache.Backend = v
	}
	if v := os.Getenv("OPENCLAW_CACHE_REDIS_ADDR"); v != "" {
		cfg.Cache.Redis.Addr = v
	}
	if v := os.Getenv("OPENCLAW_CACHE_REDIS_PASSWORD"); v != "" {
		cfg.Cache.Redis.Password = v
	}
	if v := os.Getenv("OPENCLAW_CACHE_SQLITE_PATH"); v != "" {
		cfg.Cache.SQLitePath = v
	}

	if v := os.Getenv("OPENCLAW_AUDIT_ENABLED"); v == "false" {
		cfg.Audit.Enabled = false
	}
	if v := os.Getenv("OPENCLAW_AUDIT_SINK"); v != "" {
		cfg.Audit.Sink = v
	}
	if v := os.Getenv("OPENCLAW_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("OPENCLAW_AUDIT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Audit.Retention = d
		}
	}
	if v := os.Getenv("OPENCLAW_AUDIT_DURABLE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Audit.DurableRetention = d
		}
	}

	if v := os.Getenv("OPENCLAW_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			cfg.Gateway.RateLimit = f
		}
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_TOKENS"); v != "" {
		cfg.Gateway.Auth.Tokens = nil
		for i, tok := range splitAndTrim(v, ",") {
			if tok == "" {
				continue
			}
			cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{
				Token: tok,
				Name:  fmt.Sprintf("env-%d", i),
			})
		}
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// decryptSecrets finds "enc:..." values in secret fields and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Cache.Redis.Password, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Cache.Redis.Password, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("cache redis password: %w", err)
		}
		cfg.Cache.Redis.Password = decrypted
	}

	for i := range cfg.Gateway.Auth.Tokens {
		tok := cfg.Gateway.Auth.Tokens[i].Token
		if strings.HasPrefix(tok, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway auth token %s: %w", cfg.Gateway.Auth.Tokens[i].Name, err)
			}
			cfg.Gateway.Auth.Tokens[i].Token = decrypted
		}
	}

	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
