package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/meterline/meterline/internal/types"
)

type Configuration struct {
	Deployment    DeploymentConfig    `mapstructure:"deployment" validate:"required"`
	Server        ServerConfig        `mapstructure:"server" validate:"required"`
	Logging       LoggingConfig       `mapstructure:"logging" validate:"required"`
	Postgres      PostgresConfig      `mapstructure:"postgres" validate:"required"`
	ClickHouse    ClickHouseConfig    `mapstructure:"clickhouse" validate:"required"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	PubSub        PubSubConfig        `mapstructure:"pubsub"`
	Consumer      ConsumerConfig      `mapstructure:"consumer"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Migration     MigrationConfig     `mapstructure:"migration"`
	Cleanup       CleanupConfig       `mapstructure:"cleanup"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Email         EmailConfig         `mapstructure:"email"`
	PDF           PDFConfig           `mapstructure:"pdf"`
	S3            S3Config            `mapstructure:"s3"`
	ExchangeRates ExchangeRatesConfig `mapstructure:"exchange_rates"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Sentry        SentryConfig        `mapstructure:"sentry"`
	Pyroscope     PyroscopeConfig     `mapstructure:"pyroscope"`
	Secrets       SecretsConfig       `mapstructure:"secrets"`
	Cache         CacheConfig         `mapstructure:"cache"`
}

type DeploymentConfig struct {
	Mode types.RunMode `mapstructure:"mode" validate:"required"`
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `mapstructure:"level" validate:"required"`
}

type PostgresConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	User                   string `mapstructure:"user"`
	Password               string `mapstructure:"password"`
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

type ClickHouseConfig struct {
	Address  string `mapstructure:"address"`
	TLS      bool   `mapstructure:"tls"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Debug    bool   `mapstructure:"debug"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
	Topic         string   `mapstructure:"topic"`
	TLS           bool     `mapstructure:"tls"`
	UseSASL       bool     `mapstructure:"use_sasl"`
	SASLMechanism string   `mapstructure:"sasl_mechanism"`
	SASLUser      string   `mapstructure:"sasl_user"`
	SASLPassword  string   `mapstructure:"sasl_password"`
	ClientID      string   `mapstructure:"client_id"`
}

type PubSubConfig struct {
	Type types.PubSubType `mapstructure:"type"`
	// BufferSize bounds the async hint publisher; overflow is dropped and
	// counted, never blocking the ingest path.
	BufferSize int `mapstructure:"buffer_size"`
}

// ConsumerConfig tunes the message-router retry middleware for the
// migration-hint consumer.
type ConsumerConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type AuthConfig struct {
	Provider         types.AuthProvider `mapstructure:"provider"`
	Secret           string             `mapstructure:"secret"`
	TokenExpiryHours int                `mapstructure:"token_expiry_hours"`
	APIKey           APIKeyConfig       `mapstructure:"api_key"`
	AdminIPWhitelist []string           `mapstructure:"admin_ip_whitelist"`
	Supabase         SupabaseConfig     `mapstructure:"supabase"`
}

type APIKeyConfig struct {
	Header string                   `mapstructure:"header"`
	Keys   map[string]APIKeyDetails `mapstructure:"keys"` // keyed by SHA-256 of the admin key
}

type APIKeyDetails struct {
	UserID         string `mapstructure:"user_id"`
	OrganisationID string `mapstructure:"organisation_id"`
	Role           string `mapstructure:"role"`
}

type SupabaseConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	ServiceKey string `mapstructure:"service_key"`
}

type BillingConfig struct {
	DefaultCurrency      string `mapstructure:"default_currency"`
	DefaultTaxRate       string `mapstructure:"default_tax_rate"`
	PaymentTermsDays     int    `mapstructure:"payment_terms_days"`
	AllowUnpricedMetrics bool   `mapstructure:"allow_unpriced_metrics"`
}

type MigrationConfig struct {
	BatchSize  int `mapstructure:"batch_size"`
	MaxBatches int `mapstructure:"max_batches"`
}

type CleanupConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

type PaymentConfig struct {
	Enabled             bool               `mapstructure:"enabled"`
	Gateway             string             `mapstructure:"gateway"`
	KeyID               string             `mapstructure:"key_id"`
	KeySecret           string             `mapstructure:"key_secret"`
	WebhookSecret       string             `mapstructure:"webhook_secret"`
	SupportedCurrencies []string           `mapstructure:"supported_currencies"`
	PendingTTLMinutes   int                `mapstructure:"pending_ttl_minutes"`
	Retry               PaymentRetryConfig `mapstructure:"retry"`
}

type PaymentRetryConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	MaxRetries        int  `mapstructure:"max_retries"`
	BaseIntervalHours int  `mapstructure:"base_interval_hours"`
}

type EmailConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	From    string `mapstructure:"from"`
	ReplyTo string `mapstructure:"reply_to"`
}

type PDFConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	RenderURL string `mapstructure:"render_url"`
}

type S3Config struct {
	Enabled            bool   `mapstructure:"enabled"`
	Region             string `mapstructure:"region"`
	Bucket             string `mapstructure:"bucket"`
	KeyPrefix          string `mapstructure:"key_prefix"`
	PresignExpiryHours int    `mapstructure:"presign_expiry_hours"`
}

type ExchangeRatesConfig struct {
	SyncEnabled    bool     `mapstructure:"sync_enabled"`
	SourceURL      string   `mapstructure:"source_url"`
	BaseCurrencies []string `mapstructure:"base_currencies"`
}

type AlertsConfig struct {
	Enabled                bool `mapstructure:"enabled"`
	DefaultCooldownMinutes int  `mapstructure:"default_cooldown_minutes"`
}

type NotifyConfig struct {
	Svix SvixConfig `mapstructure:"svix"`
}

type SvixConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AuthToken string `mapstructure:"auth_token"`
	BaseURL   string `mapstructure:"base_url"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	EventsPerSecond float64 `mapstructure:"events_per_second"`
	Burst           int     `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	DisabledJobs []string `mapstructure:"disabled_jobs"`
}

type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

type PyroscopeConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	ServerAddress   string   `mapstructure:"server_address"`
	ApplicationName string   `mapstructure:"application_name"`
	BasicAuthUser   string   `mapstructure:"basic_auth_user"`
	BasicAuthPass   string   `mapstructure:"basic_auth_pass"`
	SampleRate      uint32   `mapstructure:"sample_rate"`
	DisableGCRuns   bool     `mapstructure:"disable_gc_runs"`
	ProfileTypes    []string `mapstructure:"profile_types"`
}

type SecretsConfig struct {
	// EncryptionKey is the hex-encoded AES-256 key protecting gateway
	// credentials at rest. Generate one with the key utility at the repo
	// root.
	EncryptionKey string `mapstructure:"encryption_key"`
}

type CacheConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	ExpirationMinutes int  `mapstructure:"expiration_minutes"`
}

func NewConfig() (*Configuration, error) {
	// Local development convenience; missing .env is fine
	_ = godotenv.Load()

	v := viper.New()

	// Modify config paths to ensure config.yaml is found
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/meterline")

	// Set up environment variables support
	v.SetEnvPrefix("METERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	// Read config file if exists
	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Error reading config file: %v\n", err)
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	} else {
		fmt.Printf("Using config file: %s\n", v.ConfigFileUsed())
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// applyDefaults fills the knobs that have documented defaults when the
// config file leaves them unset.
func (c *Configuration) applyDefaults() {
	if c.Migration.BatchSize <= 0 {
		c.Migration.BatchSize = 1000
	}
	if c.Migration.MaxBatches <= 0 {
		c.Migration.MaxBatches = 10
	}
	if c.Cleanup.RetentionDays <= 0 {
		c.Cleanup.RetentionDays = 7
	}
	if c.Billing.DefaultCurrency == "" {
		c.Billing.DefaultCurrency = types.DefaultCurrency
	}
	if c.Billing.PaymentTermsDays <= 0 {
		c.Billing.PaymentTermsDays = 30
	}
	if c.Payment.Retry.MaxRetries <= 0 {
		c.Payment.Retry.MaxRetries = types.DefaultMaxPaymentRetries
	}
	if c.Payment.Retry.BaseIntervalHours <= 0 {
		c.Payment.Retry.BaseIntervalHours = types.DefaultRetryBaseIntervalHours
	}
	if c.Payment.PendingTTLMinutes <= 0 {
		c.Payment.PendingTTLMinutes = 24 * 60
	}
	if c.PubSub.Type == "" {
		c.PubSub.Type = types.MemoryPubSub
	}
	if c.PubSub.BufferSize <= 0 {
		c.PubSub.BufferSize = 1024
	}
	if c.Consumer.MaxRetries <= 0 {
		c.Consumer.MaxRetries = 3
	}
	if c.Consumer.InitialInterval <= 0 {
		c.Consumer.InitialInterval = time.Second
	}
	if c.Consumer.MaxInterval <= 0 {
		c.Consumer.MaxInterval = 30 * time.Second
	}
	if c.Consumer.Multiplier <= 0 {
		c.Consumer.Multiplier = 2.0
	}
	if c.Consumer.MaxElapsedTime <= 0 {
		c.Consumer.MaxElapsedTime = 2 * time.Minute
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "migration_hints"
	}
	if c.Kafka.ConsumerGroup == "" {
		c.Kafka.ConsumerGroup = "meterline-consumer"
	}
	if c.Kafka.ClientID == "" {
		c.Kafka.ClientID = "meterline"
	}
	if c.Auth.APIKey.Header == "" {
		c.Auth.APIKey.Header = "x-api-key"
	}
	if c.Auth.TokenExpiryHours <= 0 {
		c.Auth.TokenExpiryHours = 24
	}
	if c.Alerts.DefaultCooldownMinutes <= 0 {
		c.Alerts.DefaultCooldownMinutes = 60
	}
	if c.Pyroscope.ApplicationName == "" {
		c.Pyroscope.ApplicationName = "meterline"
	}
	if c.Pyroscope.SampleRate == 0 {
		c.Pyroscope.SampleRate = 100
	}
	if c.RateLimit.EventsPerSecond <= 0 {
		c.RateLimit.EventsPerSecond = 100
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 200
	}
	if c.S3.PresignExpiryHours <= 0 {
		c.S3.PresignExpiryHours = 24
	}
	if c.Cache.ExpirationMinutes <= 0 {
		c.Cache.ExpirationMinutes = 30
	}
}

// GetDefaultConfig returns a default configuration for local development.
// This is useful for running scripts, tests or other non-web applications.
func GetDefaultConfig() *Configuration {
	cfg := &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Postgres: PostgresConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "meterline",
			DBName:  "meterline",
			SSLMode: "disable",
		},
		ClickHouse: ClickHouseConfig{
			Address:  "localhost:9000",
			Database: "meterline",
			Username: "default",
		},
		Billing: BillingConfig{
			DefaultCurrency: types.DefaultCurrency,
			DefaultTaxRate:  "0.18",
		},
		Auth: AuthConfig{
			Provider: types.AuthProviderLocal,
			Secret:   "dev-secret-do-not-use",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c ClickHouseConfig) GetClientOptions() *clickhouse.Options {
	options := &clickhouse.Options{
		Addr: []string{c.Address},
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		Debug:            c.Debug,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	}
	if c.TLS {
		options.TLS = &tls.Config{}
	}
	return options
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"user=%s password=%s dbname=%s host=%s port=%d sslmode=%s",
		c.User,
		c.Password,
		c.DBName,
		c.Host,
		c.Port,
		c.SSLMode,
	)
}

// ConnMaxLifetime converts the configured minutes into a duration.
func (c PostgresConfig) ConnMaxLifetime() time.Duration {
	if c.ConnMaxLifetimeMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// PendingTTL is how long a payment may sit pending before the janitor marks
// it failed.
func (c PaymentConfig) PendingTTL() time.Duration {
	return time.Duration(c.PendingTTLMinutes) * time.Minute
}

// BaseInterval is the backoff base for payment retries.
func (c PaymentRetryConfig) BaseInterval() time.Duration {
	return time.Duration(c.BaseIntervalHours) * time.Hour
}

// JobDisabled reports whether a named scheduler job is switched off.
func (c SchedulerConfig) JobDisabled(name string) bool {
	for _, job := range c.DisabledJobs {
		if job == name {
			return true
		}
	}
	return false
}
