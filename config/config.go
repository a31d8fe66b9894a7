package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	TrackHub  TrackHubConfig  `yaml:"trackhub"`
	Operators OperatorsConfig `yaml:"operators"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (c DatabaseConfig) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, ssl)
}

type KafkaConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	EntityUpdatedTopic    string `yaml:"entity_updated_topic_name"`
	EntityUpdatedConsumer string `yaml:"entity_updated_consumer_group"`
}

func (c KafkaConfig) Brokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Host, c.Port)}
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TrackHubConfig struct {
	HTTPAddr      string `yaml:"http_addr"`
	EnableSwagger bool   `yaml:"enable_swagger"`

	CurrentStatusTTLSeconds int `yaml:"current_status_ttl_seconds"`

	SchedulerHTTPAddr            string `yaml:"scheduler_http_addr"`
	SchedulerPollIntervalSeconds int    `yaml:"scheduler_poll_interval_seconds"`
	SchedulerConcurrency         int    `yaml:"scheduler_concurrency"`
	SchedulerRateLimitPerMinute  int    `yaml:"scheduler_rate_limit_per_minute"`
	TokenExpiryMarginSeconds     int    `yaml:"token_expiry_margin_seconds"`
	MetricsNamespace             string `yaml:"metrics_namespace"`
}

// OperatorsConfig — креденшелы коннекторов. Оператор с пустым блоком считается
// выключенным и не регистрируется.
type OperatorsConfig struct {
	Fdx  FdxConfig  `yaml:"fdx"`
	Sfex SfexConfig `yaml:"sfex"`
	Eg1  Eg1Config  `yaml:"eg1"`
}

type FdxConfig struct {
	BaseURL      string `yaml:"base_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

func (c FdxConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type SfexConfig struct {
	BaseURL   string `yaml:"base_url"`
	PartnerID string `yaml:"partner_id"`
	Checkword string `yaml:"checkword"`

	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

func (c SfexConfig) Enabled() bool {
	return c.PartnerID != "" && c.Checkword != ""
}

type Eg1Config struct {
	Enabled bool `yaml:"enabled"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
