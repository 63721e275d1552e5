// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"business-escalation/internal/scheduler"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the settings of both the escalator and the notifier node.
// The mapstructure tags are used by Viper to unmarshal the data; every key
// can be overridden by the upper-cased environment variable of the same name.
type Config struct {
	NodeID         string `mapstructure:"node_id"`
	TracingEnabled bool   `mapstructure:"tracing_enabled"`

	StoreBackend  string        `mapstructure:"store_backend" validate:"oneof=memory sqlite etcd"`
	SqlitePath    string        `mapstructure:"sqlite_path" validate:"required_if=StoreBackend sqlite"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints" validate:"required_if=StoreBackend etcd,required_if=NotifierDiscovery etcd"`
	EtcdTimeout   time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	StoreTimeout  time.Duration `mapstructure:"store_timeout" validate:"gt=0"`

	HttpListenAddr    string        `mapstructure:"http_listen_addr" validate:"required"`
	LeaderElectionTTL time.Duration `mapstructure:"leader_election_ttl" validate:"gte=1s"`

	SweepSchedule     string `mapstructure:"sweep_schedule" validate:"required,schedule"`
	ResetLoadSchedule string `mapstructure:"reset_load_schedule" validate:"required,schedule"`

	ThrottleBatchSize    int           `mapstructure:"throttle_batch_size" validate:"gte=1"`
	ThrottlePause        time.Duration `mapstructure:"throttle_pause" validate:"gte=0"`
	ContactCooldown      time.Duration `mapstructure:"contact_cooldown" validate:"gt=0"`
	ReliabilityThreshold float64       `mapstructure:"reliability_threshold" validate:"gt=0"`
	DistanceThresholdKm  float64       `mapstructure:"distance_threshold_km" validate:"gt=0"`

	NotifierTransport string   `mapstructure:"notifier_transport" validate:"oneof=grpc kafka log"`
	NotifierDiscovery string   `mapstructure:"notifier_discovery" validate:"oneof=static etcd"`
	NotifierAddrs     []string `mapstructure:"notifier_addrs"`
	KafkaBrokers      []string `mapstructure:"kafka_brokers" validate:"required_if=NotifierTransport kafka"`
	KafkaTopic        string   `mapstructure:"kafka_topic" validate:"required"`
	KafkaGroupID      string   `mapstructure:"kafka_group_id" validate:"required"`

	GrpcListenAddr    string        `mapstructure:"grpc_listen_addr" validate:"required"`
	AdvertiseAddr     string        `mapstructure:"advertise_addr"`
	MetricsListenAddr string        `mapstructure:"metrics_listen_addr" validate:"required"`
	KafkaConsume      bool          `mapstructure:"kafka_consume"`
	DeliveryMode      string        `mapstructure:"delivery_mode" validate:"oneof=log webhook command email"`
	WebhookURL        string        `mapstructure:"webhook_url" validate:"required_if=DeliveryMode webhook"`
	WebhookRetries    int           `mapstructure:"webhook_max_retries" validate:"gte=0"`
	WebhookBackoff    time.Duration `mapstructure:"webhook_backoff" validate:"gte=0"`
	DeliveryCommand   string        `mapstructure:"delivery_command" validate:"required_if=DeliveryMode command"`
	SesFromEmail      string        `mapstructure:"ses_from_email" validate:"required_if=DeliveryMode email"`
	AwsRegion         string        `mapstructure:"aws_region"`
}

var defaults = map[string]any{
	"node_id":               "",
	"tracing_enabled":       false,
	"store_backend":         "memory",
	"sqlite_path":           "./data/escalation.db",
	"etcd_endpoints":        []string{"localhost:2379"},
	"etcd_timeout":          "5s",
	"store_timeout":         "5s",
	"http_listen_addr":      ":8080",
	"leader_election_ttl":   "10s",
	"sweep_schedule":        "@every 30m",
	"reset_load_schedule":   "0 0 0 * * *",
	"throttle_batch_size":   5,
	"throttle_pause":        "2s",
	"contact_cooldown":      "2h",
	"reliability_threshold": 0.5,
	"distance_threshold_km": 2.0,
	"notifier_transport":    "log",
	"notifier_discovery":    "static",
	"notifier_addrs":        []string{},
	"kafka_brokers":         []string{},
	"kafka_topic":           "volunteer-requests",
	"kafka_group_id":        "escalation-notifier",
	"grpc_listen_addr":      ":50052",
	"advertise_addr":        "",
	"metrics_listen_addr":   ":9091",
	"kafka_consume":         false,
	"delivery_mode":         "log",
	"webhook_url":           "",
	"webhook_max_retries":   3,
	"webhook_backoff":       "2s",
	"delivery_command":      "",
	"ses_from_email":        "",
	"aws_region":            "us-east-1",
}

// Load loads configuration from a .env file, a config file and environment
// variables, in increasing order of precedence. configPaths replaces the
// default search path of ./configs and the working directory.
func Load(configPaths ...string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{"./configs", "."}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("schedule", func(fl validator.FieldLevel) bool {
		return scheduler.ValidateSchedule(fl.Field().String()) == nil
	}); err != nil {
		return fmt.Errorf("failed to register schedule validator: %w", err)
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// AdvertisedGrpcAddr is the address other nodes dial to reach this
// notifier node.
func (c *Config) AdvertisedGrpcAddr() string {
	if c.AdvertiseAddr != "" {
		return c.AdvertiseAddr
	}
	return c.GrpcListenAddr
}
