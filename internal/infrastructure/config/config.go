package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/flowgraph/nodeflow/pkg/validation"
)

// EnvPrefix is prepended to every environment override, e.g. NODEFLOW_LOG_LEVEL.
const EnvPrefix = "NODEFLOW"

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required_unless=Driver memory"`
	// Codec names the blob format for SQL drivers, e.g. "msgpack+zstd".
	Codec string `mapstructure:"codec" validate:"required"`
	// Retention only applies to the memory driver.
	Retention time.Duration `mapstructure:"retention" validate:"min=0"`
}

type RabbitMQConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	TriggerQueue   string        `mapstructure:"trigger_queue" validate:"required,identifier"`
	PublishNode    bool          `mapstructure:"publish_node"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay" validate:"min=0"`
}

type EngineConfig struct {
	MaxSteps    int           `mapstructure:"max_steps" validate:"min=1"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"min=0"`
}

// Enabled reports whether a broker is configured.
func (c RabbitMQConfig) Enabled() bool { return c.URL != "" }

// legacy environment names honoured when the prefixed variable is absent
var legacyEnv = map[string]string{
	"storage.dsn":  "DATABASE_URL",
	"rabbitmq.url": "RABBITMQ_URL",
	"log.level":    "LOG_LEVEL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// driver is inferred from the DSN when left empty
	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.codec", "msgpack+zstd")
	v.SetDefault("storage.retention", "0s")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.trigger_queue", "nodeflow.triggers")
	v.SetDefault("rabbitmq.publish_node", true)
	v.SetDefault("rabbitmq.reconnect_delay", "5s")

	v.SetDefault("engine.max_steps", 1000)
	v.SetDefault("engine.http_timeout", "30s")
}

// Load reads configuration from defaults, an optional config file and the
// environment. envFiles are loaded with godotenv first and default to ".env";
// missing files are ignored. Variables already set in the process win.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("nodeflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.nodeflow")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if _, set := os.LookupEnv(EnvPrefix + "_SERVER_ADDR"); !set {
		if port := os.Getenv("PORT"); port != "" {
			cfg.Server.Addr = ":" + port
		}
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = inferDriver(cfg.Storage.DSN)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func inferDriver(dsn string) string {
	switch {
	case dsn == "":
		return DriverMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres
	default:
		return DriverSQLite
	}
}
