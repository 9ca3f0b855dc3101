package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	DMED     DMEDConfig     `yaml:"dmed"`
	MedPass  MedPassConfig  `yaml:"medpass"`
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
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", c.Username, c.Password, c.Host, c.Port, c.DBName, ssl)
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	CheckpointPassedTopicName string `yaml:"checkpoint_passed_topic_name"`
	CameraCapturedTopicName   string `yaml:"camera_captured_topic_name"`
	PersonEnrichedTopicName   string `yaml:"person_enriched_topic_name"`
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

// DMEDConfig holds the system account used against every regional registry.
type DMEDConfig struct {
	Username              string `yaml:"username"`
	Password              string `yaml:"password"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	TokenTTLSeconds       int    `yaml:"token_ttl_seconds"`
	BatchSize             int    `yaml:"batch_size"`
	RateLimitPerMinute    int    `yaml:"rate_limit_per_minute"`
}

type MedPassConfig struct {
	HTTPAddr               string  `yaml:"http_addr"`
	KafkaConsumerGroup     string  `yaml:"kafka_consumer_group"`
	PersonCacheTTLSeconds  int     `yaml:"person_cache_ttl_seconds"`
	DefaultCitizenshipID   int64   `yaml:"default_citizenship_id"`
	NationalCitizenshipIDs []int64 `yaml:"national_citizenship_ids"`
	RegistryMode           string  `yaml:"registry_mode"` // "http" | "fake", required
	LogFormat              string  `yaml:"log_format"`    // "text" | "json"

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`

	// Worker scheduling (optional). Defaults: invalid ids parked for a year,
	// not-registered persons retried in 6..12 hours, backoff 1/5/15/60 minutes.
	WorkerInvalidDelaySeconds      int `yaml:"worker_invalid_delay_seconds"`
	WorkerExhaustedMinDelaySeconds int `yaml:"worker_exhausted_min_delay_seconds"`
	WorkerExhaustedMaxDelaySeconds int `yaml:"worker_exhausted_max_delay_seconds"`
	WorkerBackoff1Seconds          int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds          int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds          int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds          int `yaml:"worker_backoff_4_seconds"`
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
