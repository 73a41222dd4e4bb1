package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"kassa-service/internal/credentials"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Database struct {
	Driver        string `mapstructure:"driver"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name"`
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	SSLMode       string `mapstructure:"ssl-mode"`
	MigrationsDir string `mapstructure:"migrations-dir"`
}

func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	StatusEvents string `mapstructure:"status-events"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
}

// Kassa configures the payment gateway. LiveMode is the global live/test switch;
// in test mode gateway responses are appended to TestLogFile in TestLogCharset.
type Kassa struct {
	APIURL         string `mapstructure:"api-url"`
	LiveMode       bool   `mapstructure:"live-mode"`
	TimeoutMs      int    `mapstructure:"timeout-ms"`
	TestLogFile    string `mapstructure:"test-log-file"`
	TestLogCharset string `mapstructure:"test-log-charset"`
}

// Site is one tenant: a merchant website with its own shop credentials.
type Site struct {
	ID         int    `mapstructure:"id"`
	Domain     string `mapstructure:"domain"`
	Charset    string `mapstructure:"charset"`
	LiveShopID string `mapstructure:"live-shop-id"`
	LiveKey    string `mapstructure:"live-key"`
	TestShopID string `mapstructure:"test-shop-id"`
	TestKey    string `mapstructure:"test-key"`
}

func (s Site) Credentials() credentials.Record {
	return credentials.Record{
		LiveShopID: s.LiveShopID,
		LiveKey:    s.LiveKey,
		TestShopID: s.TestShopID,
		TestKey:    s.TestKey,
	}
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
	URL string `mapstructure:"url"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Kassa    Kassa    `mapstructure:"kassa"`
	Sites    []Site   `mapstructure:"sites"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

// Site returns the tenant with the given id.
func (c *Config) Site(id int) (Site, bool) {
	for _, s := range c.Sites {
		if s.ID == id {
			return s, true
		}
	}
	return Site{}, false
}

func (c *Config) Validate() error {
	if c.Kassa.APIURL == "" {
		return errors.New("kassa.api-url is required")
	}
	if c.Kassa.TimeoutMs <= 0 {
		return errors.New("kassa.timeout-ms must be positive")
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return errors.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	seen := make(map[int]bool, len(c.Sites))
	for _, s := range c.Sites {
		if seen[s.ID] {
			return errors.Errorf("site %d is configured twice", s.ID)
		}
		seen[s.ID] = true
		if s.Domain == "" {
			return errors.Errorf("site %d: domain is required", s.ID)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.ssl-mode", "disable")
	v.SetDefault("database.migrations-dir", "migrations")
	v.SetDefault("kassa.api-url", "https://api.yookassa.ru/v3")
	v.SetDefault("kassa.live-mode", false)
	v.SetDefault("kassa.timeout-ms", 10_000)
	v.SetDefault("kassa.test-log-file", "")
	v.SetDefault("kassa.test-log-charset", "windows-1251")
	v.SetDefault("kafka.broker.url", "")
	v.SetDefault("kafka.topic.status-events", "kassa-payment-status")
	v.SetDefault("kafka.writer.batch-size", 100)
	v.SetDefault("kafka.writer.batch-timeout-ms", 100)
	v.SetDefault("metrics.interval-ms", 10_000)
	v.SetDefault("logs.url", "")
}

// LoadConfig reads config.yaml from path. Environment variables override file values,
// e.g. KASSA_LIVE_MODE overrides kassa.live-mode.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "decode config")
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
