// Package config loads process configuration from the environment, optionally
// layered over a YAML file named by CONFIG_PATH.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ilyakaznacheev/cleanenv"

	dErrors "sentinel-sos/pkg/domain-errors"
)

const devSigningKey = "dev-secret-key-change-in-production"

type Config struct {
	Env       string          `yaml:"env" env:"SENTINEL_ENV" env-default:"development"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Authority AuthorityConfig `yaml:"authority"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Operators []OperatorSeed  `yaml:"operators"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SENTINEL_ADDR" env-default:":8080"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"SENTINEL_REQUEST_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SENTINEL_SHUTDOWN_TIMEOUT" env-default:"10s"`
	AdminToken      string        `yaml:"admin_token" env:"SENTINEL_ADMIN_TOKEN"`
	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trusted_proxies" env:"SENTINEL_TRUSTED_PROXIES" env-separator:","`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

type AuthConfig struct {
	JWTSigningKey    string        `yaml:"jwt_signing_key" env:"JWT_SIGNING_KEY" env-default:"dev-secret-key-change-in-production"`
	Issuer           string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"sentinel-sos"`
	Audience         string        `yaml:"audience" env:"JWT_AUDIENCE" env-default:"sentinel-api"`
	SubjectTokenTTL  time.Duration `yaml:"subject_token_ttl" env:"SUBJECT_TOKEN_TTL" env-default:"168h"`
	OperatorTokenTTL time.Duration `yaml:"operator_token_ttl" env:"OPERATOR_TOKEN_TTL" env-default:"12h"`
	NonceTTL         time.Duration `yaml:"nonce_ttl" env:"NONCE_TTL" env-default:"5m"`
	NonceStore       string        `yaml:"nonce_store" env:"NONCE_STORE" env-default:"memory"`
	NonceSweep       string        `yaml:"nonce_sweep" env:"NONCE_SWEEP_SCHEDULE" env-default:"@every 1m"`
}

// AuthorityConfig names where the responder private key comes from. The file
// wins when both are set.
type AuthorityConfig struct {
	PrivateKey     string `yaml:"private_key" env:"AUTHORITY_PRIVATE_KEY"`
	PrivateKeyFile string `yaml:"private_key_file" env:"AUTHORITY_PRIVATE_KEY_FILE"`
	// LegacyOAEP also accepts session keys wrapped with OAEP over SHA-1.
	LegacyOAEP bool `yaml:"legacy_oaep" env:"AUTHORITY_LEGACY_OAEP" env-default:"false"`
}

type LedgerConfig struct {
	RPCURL           string        `yaml:"rpc_url" env:"LEDGER_RPC_URL"`
	ContractAddress  string        `yaml:"contract_address" env:"LEDGER_CONTRACT_ADDRESS"`
	RequestTimeout   time.Duration `yaml:"request_timeout" env:"LEDGER_REQUEST_TIMEOUT" env-default:"5s"`
	MaxRetries       uint64        `yaml:"max_retries" env:"LEDGER_MAX_RETRIES" env-default:"3"`
	BreakerFailures  int           `yaml:"breaker_failures" env:"LEDGER_BREAKER_FAILURES" env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"LEDGER_BREAKER_COOLDOWN" env-default:"30s"`
	CrossCheckCounts bool          `yaml:"cross_check_counts" env:"LEDGER_CROSS_CHECK" env-default:"true"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"memory"`
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	BadgerPath  string `yaml:"badger_path" env:"BADGER_PATH" env-default:"data/incidents"`
	MaxConns    int    `yaml:"max_conns" env:"DATABASE_MAX_CONNS" env-default:"10"`
}

type RedisConfig struct {
	URL          string        `yaml:"url" env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size" env:"REDIS_POOL_SIZE" env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"REDIS_READ_TIMEOUT" env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:","`
	AuditTopic string   `yaml:"audit_topic" env:"KAFKA_AUDIT_TOPIC" env-default:"sentinel.audit"`
}

type NotifierConfig struct {
	SessionBuffer int           `yaml:"session_buffer" env:"NOTIFIER_SESSION_BUFFER" env-default:"64"`
	WriteTimeout  time.Duration `yaml:"write_timeout" env:"NOTIFIER_WRITE_TIMEOUT" env-default:"10s"`
}

// RateLimitConfig sets per-IP budgets. Zero disables a class.
type RateLimitConfig struct {
	AuthPerMinute   int `yaml:"auth_per_minute" env:"RATELIMIT_AUTH_PER_MINUTE" env-default:"20"`
	SubmitPerMinute int `yaml:"submit_per_minute" env:"RATELIMIT_SUBMIT_PER_MINUTE" env-default:"10"`
}

// OperatorSeed provisions a responder account at boot. Passwords are bcrypt
// hashes; plaintext never appears in config.
type OperatorSeed struct {
	Email        string `yaml:"email"`
	PasswordHash string `yaml:"password_hash"`
	Role         string `yaml:"role"`
}

// Load reads configuration. path may be empty, in which case only the
// environment is consulted.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to read configuration")
	}
	cfg.applyBootstrapOperator()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyBootstrapOperator lets a single operator be provisioned from the
// environment, for deployments without a YAML file.
func (c *Config) applyBootstrapOperator() {
	email := strings.TrimSpace(os.Getenv("OPERATOR_EMAIL"))
	hash := strings.TrimSpace(os.Getenv("OPERATOR_PASSWORD_HASH"))
	if email == "" || hash == "" {
		return
	}
	c.Operators = append(c.Operators, OperatorSeed{Email: email, PasswordHash: hash, Role: "responder"})
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var problems []string

	if c.Auth.JWTSigningKey == "" || (c.IsProduction() && c.Auth.JWTSigningKey == devSigningKey) {
		problems = append(problems, "JWT_SIGNING_KEY must be set")
	}
	if c.Authority.PrivateKey == "" && c.Authority.PrivateKeyFile == "" {
		problems = append(problems, "AUTHORITY_PRIVATE_KEY or AUTHORITY_PRIVATE_KEY_FILE is required")
	}
	if c.Ledger.RPCURL == "" {
		problems = append(problems, "LEDGER_RPC_URL is required")
	}
	if !common.IsHexAddress(c.Ledger.ContractAddress) {
		problems = append(problems, "LEDGER_CONTRACT_ADDRESS must be a 0x-prefixed 20-byte address")
	}
	if c.Ledger.RequestTimeout <= 0 {
		problems = append(problems, "LEDGER_REQUEST_TIMEOUT must be positive")
	}
	switch c.Storage.Driver {
	case "memory", "badger":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required for the postgres driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	switch c.Auth.NonceStore {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			problems = append(problems, "REDIS_URL is required for the redis nonce store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown NONCE_STORE %q", c.Auth.NonceStore))
	}
	if c.Auth.NonceTTL <= 0 {
		problems = append(problems, "NONCE_TTL must be positive")
	}
	if c.Notifier.SessionBuffer <= 0 {
		problems = append(problems, "NOTIFIER_SESSION_BUFFER must be positive")
	}

	if len(problems) > 0 {
		return dErrors.New(dErrors.CodeConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// AuthorityPEM returns the raw private key text, reading the file if one is
// configured.
func (c *Config) AuthorityPEM() (string, error) {
	if c.Authority.PrivateKeyFile != "" {
		raw, err := os.ReadFile(c.Authority.PrivateKeyFile)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeConfiguration, "failed to read authority private key file")
		}
		return string(raw), nil
	}
	if c.Authority.PrivateKey == "" {
		return "", dErrors.New(dErrors.CodeConfiguration, "authority private key is not configured")
	}
	return c.Authority.PrivateKey, nil
}
