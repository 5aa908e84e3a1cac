package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	PhoneRuleLastNine  = "last-nine"
	PhoneRuleDropFirst = "drop-first"
)

type Database struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
	// Migrations is the goose migrations directory.
	Migrations string `mapstructure:"migrations"`
}

// ConnString returns the postgres URL used by both goose (lib/pq) and pgxpool.
func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type Redis struct {
	Addr      string `mapstructure:"addr"`
	LockTTLMs int    `mapstructure:"lock-ttl-ms"`
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	PaymentEvents  string `mapstructure:"payment-events"`
	SelcomWebhooks string `mapstructure:"selcom-webhooks"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Outbox struct {
	PollingIntervalMs  int `mapstructure:"polling-interval-ms"`
	FetchSize          int `mapstructure:"fetch-size"`
	RescheduleDelayMs  int `mapstructure:"reschedule-delay-ms"`
	MaxPublishAttempts int `mapstructure:"max-publish-attempts"`
}

type SelcomWebhook struct {
	// URL is the public address the provider posts IPN callbacks to.
	URL           string `mapstructure:"url"`
	InCreateOrder bool   `mapstructure:"in-create-order"`
	InCharge      bool   `mapstructure:"in-charge"`
	// Async hands webhook bodies to Kafka and acknowledges immediately.
	Async bool `mapstructure:"async"`
}

// Selcom holds the gateway settings an operator would fill in on the admin screen.
type Selcom struct {
	Enabled      bool          `mapstructure:"enabled"`
	Title        string        `mapstructure:"title"`
	Description  string        `mapstructure:"description"`
	Instructions string        `mapstructure:"instructions"`
	Vendor       string        `mapstructure:"vendor"`
	APIKey       string        `mapstructure:"api-key"`
	APISecret    string        `mapstructure:"api-secret"`
	APIURL       string        `mapstructure:"api-url"`
	TimeoutMs    int           `mapstructure:"timeout-ms"`
	PhoneRule    string        `mapstructure:"phone-rule"`
	ChargeAmount bool          `mapstructure:"charge-amount"`
	Webhook      SelcomWebhook `mapstructure:"webhook"`
}

type Shop struct {
	BaseURL string `mapstructure:"base-url"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Tracing struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service-name"`
}

type Config struct {
	Server   Server   `mapstructure:"server"`
	Shop     Shop     `mapstructure:"shop"`
	Selcom   Selcom   `mapstructure:"selcom"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Outbox   Outbox   `mapstructure:"outbox"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
	Tracing  Tracing  `mapstructure:"tracing"`
}

var defaults = map[string]any{
	"server.port": "8080",

	"shop.base-url": "http://localhost:8080",

	"selcom.enabled":                 true,
	"selcom.title":                   "Selcom Gateway",
	"selcom.description":             "Pay via Selcom Gateway",
	"selcom.instructions":            "Pay via Selcom Gateway",
	"selcom.vendor":                  "",
	"selcom.api-key":                 "",
	"selcom.api-secret":              "",
	"selcom.api-url":                 "",
	"selcom.timeout-ms":              30_000,
	"selcom.phone-rule":              PhoneRuleLastNine,
	"selcom.charge-amount":           false,
	"selcom.webhook.url":             "http://localhost:8080/webhooks/selcom",
	"selcom.webhook.in-create-order": true,
	"selcom.webhook.in-charge":       true,
	"selcom.webhook.async":           false,

	"database.user":       "postgres",
	"database.password":   "postgres",
	"database.name":       "shop",
	"database.host":       "localhost",
	"database.port":       "5432",
	"database.ssl-mode":   "disable",
	"database.migrations": "migrations",

	"redis.addr":        "",
	"redis.lock-ttl-ms": 30_000,

	"kafka.writer.batch-size":       100,
	"kafka.writer.batch-timeout-ms": 100,
	"kafka.broker.url":              "localhost:9092",
	"kafka.topic.payment-events":    "payment-events",
	"kafka.topic.selcom-webhooks":   "selcom-webhooks",
	"kafka.reader.group-id":         "selcom-gateway",

	"outbox.polling-interval-ms":  500,
	"outbox.fetch-size":           200,
	"outbox.reschedule-delay-ms":  10_000,
	"outbox.max-publish-attempts": 3,

	"metrics.url":           "",
	"metrics.interval-ms":   10_000,
	"metrics.common-labels": "",

	"logs.url":   "",
	"logs.level": "info",

	"tracing.endpoint":     "",
	"tracing.service-name": "selcom-gateway",
}

func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func MustLoadConfig(path string) *Config {
	config, err := LoadConfig(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

// Validate checks the settings the gateway cannot run without.
func (c *Config) Validate() error {
	s := c.Selcom
	switch s.PhoneRule {
	case PhoneRuleLastNine, PhoneRuleDropFirst:
	default:
		return fmt.Errorf("selcom.phone-rule: unknown rule %q", s.PhoneRule)
	}

	if !s.Enabled {
		return nil
	}

	var missing []string
	if s.Vendor == "" {
		missing = append(missing, "selcom.vendor")
	}
	if s.APIKey == "" {
		missing = append(missing, "selcom.api-key")
	}
	if s.APISecret == "" {
		missing = append(missing, "selcom.api-secret")
	}
	if s.APIURL == "" {
		missing = append(missing, "selcom.api-url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("selcom gateway is enabled but %s not set", strings.Join(missing, ", "))
	}
	return nil
}
