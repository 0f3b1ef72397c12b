package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// KafkaConfig holds message transport configuration
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	ResultsTopic string   `mapstructure:"results_topic"`
	GroupID      string   `mapstructure:"group_id"`
}

// WorkflowConfig holds orchestration policy configuration
type WorkflowConfig struct {
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	ReapSchedule string        `mapstructure:"reap_schedule"`
	ReapHorizon  time.Duration `mapstructure:"reap_horizon"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	bindEnvVars()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	viper.SetDefault("database.path", "data/pizza-workflow.db")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Kafka defaults
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.results_topic", "pizza.results")
	viper.SetDefault("kafka.group_id", "pizza-workflow")

	// Workflow defaults
	viper.SetDefault("workflow.wait_timeout", 30*time.Minute)
	viper.SetDefault("workflow.max_attempts", 3)
	viper.SetDefault("workflow.retry_backoff", 200*time.Millisecond)
	viper.SetDefault("workflow.reap_schedule", "@every 5m")
	viper.SetDefault("workflow.reap_horizon", time.Hour)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.output_path", "stdout")
	viper.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars() {
	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("database.path", "DATABASE_PATH")
	viper.BindEnv("server.port", "SERVER_PORT")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.ResultsTopic == "" {
		return fmt.Errorf("kafka.results_topic is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Workflow.MaxAttempts < 1 {
		return fmt.Errorf("workflow.max_attempts must be at least 1")
	}
	if c.Workflow.ReapHorizon <= 0 {
		return fmt.Errorf("workflow.reap_horizon must be positive")
	}
	return nil
}
