// Package config loads the alien-sso configuration from a YAML file, an optional .env file
// and ALIEN_SSO_* environment variables (in increasing order of precedence).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultSSOBaseURL is the public Alien SSO endpoint.
	DefaultSSOBaseURL = "https://sso.alien.com"
	// DefaultPollingInterval matches the provider's recommended poll cadence.
	DefaultPollingInterval = 5 * time.Second
	// DefaultListen is the backend listen address.
	DefaultListen = ":8080"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ALIEN_SSO_"
)

// Config is the complete application configuration.
type Config struct {
	// SSOBaseURL is the identity provider base URL.
	SSOBaseURL string `yaml:"sso-base-url" json:"sso-base-url"`
	// ServerBaseURL is the backend holding the provider signing key. Clients without a
	// local key delegate POST /authorize to it.
	ServerBaseURL string `yaml:"server-base-url" json:"server-base-url"`
	// ProviderAddress identifies this application to the provider.
	ProviderAddress string `yaml:"provider-address" json:"provider-address"`
	// ProviderPrivateKey is the hex encoded Ed25519 key (32 byte seed or 64 byte key).
	ProviderPrivateKey string `yaml:"provider-private-key" json:"-"`

	ClientID    string `yaml:"client-id" json:"client-id"`
	Scope       string `yaml:"scope" json:"scope"`
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`

	PollingInterval   time.Duration `yaml:"polling-interval" json:"polling-interval"`
	AllowedAlgorithms []string      `yaml:"allowed-algorithms" json:"allowed-algorithms"`

	// ProxyURL routes outbound provider traffic through an http(s) or socks5 proxy.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	Listen string `yaml:"listen" json:"listen"`
	Debug  bool   `yaml:"debug" json:"debug"`

	LoggingToFile      bool   `yaml:"logging-to-file" json:"logging-to-file"`
	LogDir             string `yaml:"log-dir" json:"log-dir"`
	LogsMaxTotalSizeMB int    `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	Store  StoreConfig  `yaml:"store" json:"store"`
	Solana SolanaConfig `yaml:"solana" json:"solana"`
}

// StoreConfig selects the durable token backend.
type StoreConfig struct {
	// Backend is one of file, postgres, object, git, redis.
	Backend  string         `yaml:"backend" json:"backend"`
	Path     string         `yaml:"path" json:"path"`
	Postgres PostgresConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectConfig   `yaml:"object" json:"object"`
	Git      GitConfig      `yaml:"git" json:"git"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

type PostgresConfig struct {
	DSN    string `yaml:"dsn" json:"-"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

type ObjectConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
}

type GitConfig struct {
	URL      string `yaml:"url" json:"url"`
	Username string `yaml:"username" json:"username"`
	Token    string `yaml:"token" json:"-"`
	Dir      string `yaml:"dir" json:"dir"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"-"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// SolanaConfig overrides the on-chain program ids and the RPC endpoint.
type SolanaConfig struct {
	RPCURL                  string `yaml:"rpc-url" json:"rpc-url"`
	CredentialSignerProgram string `yaml:"credential-signer-program" json:"credential-signer-program"`
	SASProgram              string `yaml:"sas-program" json:"sas-program"`
	SessionRegistryProgram  string `yaml:"session-registry-program" json:"session-registry-program"`
}

// LoadDotEnv loads the given .env files, ignoring missing ones.
func LoadDotEnv(paths ...string) {
	for _, p := range paths {
		if errLoad := godotenv.Load(p); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warnf("failed to load %s", p)
		}
	}
}

// LoadConfig reads path (a missing file yields the defaults), then applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			log.Debugf("config: %s not found, using defaults", path)
		default:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SSOBaseURL == "" {
		c.SSOBaseURL = DefaultSSOBaseURL
	}
	c.SSOBaseURL = strings.TrimRight(c.SSOBaseURL, "/")
	c.ServerBaseURL = strings.TrimRight(c.ServerBaseURL, "/")
	if c.Scope == "" {
		c.Scope = "openid"
	}
	if c.PollingInterval <= 0 {
		c.PollingInterval = DefaultPollingInterval
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "file"
	}
}

// ApplyEnv overrides fields from ALIEN_SSO_* variables using lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if parsed, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
				*dst = parsed
			} else {
				log.Warnf("config: ignoring %s%s=%q: %v", EnvPrefix, key, v, err)
			}
		}
	}

	str("SSO_BASE_URL", &c.SSOBaseURL)
	str("SERVER_BASE_URL", &c.ServerBaseURL)
	str("PROVIDER_ADDRESS", &c.ProviderAddress)
	str("PROVIDER_PRIVATE_KEY", &c.ProviderPrivateKey)
	str("CLIENT_ID", &c.ClientID)
	str("SCOPE", &c.Scope)
	str("REDIRECT_URI", &c.RedirectURI)
	str("PROXY_URL", &c.ProxyURL)
	str("LISTEN", &c.Listen)
	str("LOG_DIR", &c.LogDir)
	boolean("DEBUG", &c.Debug)
	boolean("LOGGING_TO_FILE", &c.LoggingToFile)
	if v, ok := lookup(EnvPrefix + "POLLING_INTERVAL"); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			c.PollingInterval = d
		} else {
			log.Warnf("config: ignoring %sPOLLING_INTERVAL=%q: %v", EnvPrefix, v, err)
		}
	}
	if v, ok := lookup(EnvPrefix + "ALLOWED_ALGORITHMS"); ok {
		c.AllowedAlgorithms = splitList(v)
	}

	str("STORE_BACKEND", &c.Store.Backend)
	str("STORE_PATH", &c.Store.Path)
	str("PGSTORE_DSN", &c.Store.Postgres.DSN)
	str("PGSTORE_SCHEMA", &c.Store.Postgres.Schema)
	str("OBJECTSTORE_ENDPOINT", &c.Store.Object.Endpoint)
	str("OBJECTSTORE_BUCKET", &c.Store.Object.Bucket)
	str("OBJECTSTORE_ACCESS_KEY", &c.Store.Object.AccessKey)
	str("OBJECTSTORE_SECRET_KEY", &c.Store.Object.SecretKey)
	str("GITSTORE_GIT_URL", &c.Store.Git.URL)
	str("GITSTORE_GIT_USERNAME", &c.Store.Git.Username)
	str("GITSTORE_GIT_TOKEN", &c.Store.Git.Token)
	str("GITSTORE_LOCAL_PATH", &c.Store.Git.Dir)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)

	str("SOLANA_RPC_URL", &c.Solana.RPCURL)
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "file", "memory":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres backend")
		}
	case "object":
		if c.Store.Object.Endpoint == "" || c.Store.Object.Bucket == "" {
			return fmt.Errorf("config: store.object.endpoint and store.object.bucket are required for the object backend")
		}
	case "git":
		if c.Store.Git.URL == "" && c.Store.Git.Dir == "" && c.Store.Path == "" {
			return fmt.Errorf("config: store.git.url or store.git.dir is required for the git backend")
		}
	case "redis":
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("config: store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	for _, alg := range c.AllowedAlgorithms {
		if strings.EqualFold(alg, "none") {
			return fmt.Errorf("config: algorithm %q cannot be allowed", alg)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
