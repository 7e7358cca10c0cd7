package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/tixello/settlement/internal/types"
)

type Configuration struct {
	Deployment DeploymentConfig `validate:"required"`
	Server     ServerConfig     `validate:"required"`
	Logging    LoggingConfig    `validate:"required"`
	Postgres   PostgresConfig
	Pricing    PricingConfig `validate:"required"`
	Ledger     LedgerConfig  `validate:"required"`
	PubSub     PubSubConfig  `mapstructure:"pubsub" validate:"required"`
	Kafka      KafkaConfig
	Cache      CacheConfig
}

type DeploymentConfig struct {
	Mode types.RunMode `validate:"required"`
}

type ServerConfig struct {
	Address string `validate:"required"`
}

type LoggingConfig struct {
	Level types.LogLevel `validate:"required"`
}

type PostgresConfig struct {
	Host                   string
	Port                   int
	User                   string
	Password               string
	DBName                 string `mapstructure:"dbname"`
	SSLMode                string `mapstructure:"sslmode"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
}

// PricingConfig holds marketplace wide pricing defaults
type PricingConfig struct {
	// FallbackCommissionRate is used when neither the event, the organizer
	// nor the marketplace define a commission rate. Stored as a string so the
	// percentage keeps its exact decimal representation.
	FallbackCommissionRate string `mapstructure:"fallback_commission_rate" validate:"required"`
	DefaultCurrency        string `mapstructure:"default_currency" validate:"required,len=3"`
}

type LedgerConfig struct {
	Store          types.LedgerStore `validate:"required,oneof=postgres memory"`
	MaxRetries     int               `mapstructure:"max_retries" validate:"gte=0"`
	InitialBackoff time.Duration     `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration     `mapstructure:"max_backoff"`
	CodePrefix     string            `mapstructure:"code_prefix"`
}

type PubSubConfig struct {
	Backend types.PubSubBackend `validate:"required,oneof=memory kafka"`
	Topic   string              `validate:"required"`
}

type CacheConfig struct {
	Enabled           bool
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
}

type KafkaConfig struct {
	Brokers       []string
	ClientID      string `mapstructure:"client_id"`
	ConsumerGroup string `mapstructure:"consumer_group"`
	TLS           bool
	UseSASL       bool   `mapstructure:"use_sasl"`
	SASLMechanism string `mapstructure:"sasl_mechanism"`
	SASLUser      string `mapstructure:"sasl_user"`
	SASLPassword  string `mapstructure:"sasl_password"`
}

func NewConfig() (*Configuration, error) {
	// .env is a local development convenience, missing files are fine
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/settlement")

	v.SetEnvPrefix("SETTLEMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
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

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := GetDefaultConfig()
	v.SetDefault("deployment.mode", defaults.Deployment.Mode)
	v.SetDefault("server.address", defaults.Server.Address)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("postgres.conn_max_lifetime_minutes", 30)
	v.SetDefault("pricing.fallback_commission_rate", defaults.Pricing.FallbackCommissionRate)
	v.SetDefault("pricing.default_currency", defaults.Pricing.DefaultCurrency)
	v.SetDefault("ledger.store", defaults.Ledger.Store)
	v.SetDefault("ledger.max_retries", defaults.Ledger.MaxRetries)
	v.SetDefault("ledger.initial_backoff", defaults.Ledger.InitialBackoff)
	v.SetDefault("ledger.max_backoff", defaults.Ledger.MaxBackoff)
	v.SetDefault("ledger.code_prefix", defaults.Ledger.CodePrefix)
	v.SetDefault("pubsub.backend", defaults.PubSub.Backend)
	v.SetDefault("pubsub.topic", defaults.PubSub.Topic)
	v.SetDefault("kafka.client_id", "settlement")
	v.SetDefault("kafka.consumer_group", "settlement-ledger-stream")
	v.SetDefault("cache.enabled", defaults.Cache.Enabled)
	v.SetDefault("cache.default_expiration", defaults.Cache.DefaultExpiration)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Ledger.Store == types.LedgerStorePostgres && c.Postgres.Host == "" {
		return fmt.Errorf("postgres.host is required when ledger.store is %q", types.LedgerStorePostgres)
	}

	if c.PubSub.Backend == types.PubSubBackendKafka && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when pubsub.backend is %q", types.PubSubBackendKafka)
	}

	return nil
}

// GetDefaultConfig returns a default configuration for local development
// This is useful for running scripts or other non-web applications
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Deployment: DeploymentConfig{Mode: types.ModeLocal},
		Server:     ServerConfig{Address: ":8080"},
		Logging:    LoggingConfig{Level: types.LogLevelDebug},
		Pricing: PricingConfig{
			FallbackCommissionRate: "5.0",
			DefaultCurrency:        "RON",
		},
		Ledger: LedgerConfig{
			Store:          types.LedgerStoreMemory,
			MaxRetries:     5,
			InitialBackoff: 5 * time.Millisecond,
			MaxBackoff:     200 * time.Millisecond,
			CodePrefix:     types.SHORT_ID_PREFIX_STORED_VALUE_CODE,
		},
		PubSub: PubSubConfig{
			Backend: types.PubSubBackendMemory,
			Topic:   "stored_value.transactions",
		},
		Cache: CacheConfig{
			Enabled:           true,
			DefaultExpiration: 10 * time.Minute,
		},
	}
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
