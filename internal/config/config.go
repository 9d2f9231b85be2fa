package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/countdown/internal/logger"
)

// Store drivers.
const (
	StoreDriverBolt     = "bolt"
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
)

// Authority drivers.
const (
	AuthorityDriverMemory = "memory"
	AuthorityDriverRedis  = "redis"
)

// Config holds the settings shared by the countdown binaries.
type Config struct {
	// ServerAddress is the gRPC address of the countdown server.
	ServerAddress string `yaml:"server_addr"`
	// Timeout bounds every client RPC call.
	Timeout time.Duration `yaml:"timeout"`
	// LogLevel is the minimum level of emitted log entries.
	LogLevel string `yaml:"log_level"`
	// LogFormat is console or json.
	LogFormat string `yaml:"log_format,omitempty"`
	// SweepInterval is how often running timers are checked for expiry.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// MetricsAddress enables the Prometheus endpoint when set.
	MetricsAddress string `yaml:"metrics_addr,omitempty"`
	// Store selects and configures the timer record store.
	Store StoreConfig `yaml:"store"`
	// Authority selects and configures the alarm authority.
	Authority AuthorityConfig `yaml:"authority"`
	// MQTT configures the remote control subscriber. Disabled when Broker is empty.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// StoreConfig configures the record store.
type StoreConfig struct {
	// Driver is one of bolt, file or postgres.
	Driver string `yaml:"driver"`
	// Path is the database file of the bolt and file drivers.
	Path string `yaml:"path,omitempty"`
	// DSN is the connection string of the postgres driver.
	DSN string `yaml:"dsn,omitempty"`
}

// AuthorityConfig configures the alarm authority.
type AuthorityConfig struct {
	// Driver is one of memory or redis.
	Driver        string        `yaml:"driver"`
	RedisAddress  string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
	KeyPrefix     string        `yaml:"key_prefix,omitempty"`
	PollInterval  time.Duration `yaml:"poll_interval,omitempty"`
}

// MQTTConfig configures the remote control subscriber.
type MQTTConfig struct {
	Broker      string `yaml:"broker,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "countdown-settings.yaml"

	// DefaultStoreFilename is the default database file of the bolt driver.
	DefaultStoreFilename = "countdown-timers.db"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultSweepInterval is the default period of the expiry sweep.
	DefaultSweepInterval = time.Second

	// DefaultPollInterval is the default period between Redis snapshots.
	DefaultPollInterval = time.Second

	// DefaultKeyPrefix namespaces the Redis keys.
	DefaultKeyPrefix = "countdown:"

	// DefaultTopicPrefix is the root of the MQTT control topics.
	DefaultTopicPrefix = "countdown/timers"

	// DefaultMQTTClientID identifies the server at the broker.
	DefaultMQTTClientID = "countdown-server"

	// DefaultFilePermissions is the default file permission for config and store files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errUnknownStoreDriver is returned for an unsupported store driver.
	errUnknownStoreDriver = errors.New("unknown store driver")
	// errUnknownAuthorityDriver is returned for an unsupported authority driver.
	errUnknownAuthorityDriver = errors.New("unknown authority driver")
	// errDSNRequired is returned when the postgres driver has no DSN.
	errDSNRequired = errors.New("store dsn must be provided for the postgres driver")
	// errRedisAddressRequired is returned when the redis driver has no address.
	errRedisAddressRequired = errors.New("redis address must be provided for the redis driver")
	// errUnknownLogLevel is returned when log_level cannot be parsed.
	errUnknownLogLevel = errors.New("unknown log level")
	// errUnknownLogFormat is returned when log_format is neither console nor json.
	errUnknownLogFormat = errors.New("unknown log format")
	// errInvalidQoS is returned for an MQTT QoS above 2.
	errInvalidQoS = errors.New("mqtt qos must be 0, 1 or 2")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings and fills in defaults.
func Validate(settings *Config) error {
	if settings.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", settings.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.SweepInterval <= 0 {
		settings.SweepInterval = DefaultSweepInterval
	}

	if settings.LogLevel == "" {
		settings.LogLevel = "info"
	}

	if _, ok := logger.ParseLogLevel(settings.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, settings.LogLevel)
	}

	settings.LogFormat = strings.ToLower(settings.LogFormat)

	switch settings.LogFormat {
	case "":
		settings.LogFormat = logger.FormatConsole
	case logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("%w: %q", errUnknownLogFormat, settings.LogFormat)
	}

	if settings.MetricsAddress != "" {
		if _, _, err := net.SplitHostPort(settings.MetricsAddress); err != nil {
			return fmt.Errorf("invalid metrics address: %w", err)
		}
	}

	if err := validateStore(&settings.Store); err != nil {
		return err
	}

	if err := validateAuthority(&settings.Authority); err != nil {
		return err
	}

	return validateMQTT(&settings.MQTT)
}

func validateStore(store *StoreConfig) error {
	store.Driver = strings.ToLower(store.Driver)

	switch store.Driver {
	case "":
		store.Driver = StoreDriverBolt

		fallthrough
	case StoreDriverBolt, StoreDriverFile:
		if store.Path == "" {
			store.Path = DefaultStoreFilename
		}
	case StoreDriverPostgres:
		if store.DSN == "" {
			return errDSNRequired
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownStoreDriver, store.Driver)
	}

	return nil
}

func validateAuthority(authority *AuthorityConfig) error {
	authority.Driver = strings.ToLower(authority.Driver)

	switch authority.Driver {
	case "":
		authority.Driver = AuthorityDriverMemory
	case AuthorityDriverMemory:
	case AuthorityDriverRedis:
		if authority.RedisAddress == "" {
			return errRedisAddressRequired
		}

		if _, _, err := net.SplitHostPort(authority.RedisAddress); err != nil {
			return fmt.Errorf("invalid redis address: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownAuthorityDriver, authority.Driver)
	}

	if authority.KeyPrefix == "" {
		authority.KeyPrefix = DefaultKeyPrefix
	}

	if authority.PollInterval <= 0 {
		authority.PollInterval = DefaultPollInterval
	}

	return nil
}

func validateMQTT(mqtt *MQTTConfig) error {
	if !mqtt.Enabled() {
		return nil
	}

	if _, err := url.ParseRequestURI(mqtt.Broker); err != nil {
		return fmt.Errorf("invalid mqtt broker URI: %w", err)
	}

	if mqtt.QoS > 2 { //nolint:mnd // MQTT defines QoS levels 0 to 2.
		return errInvalidQoS
	}

	if mqtt.ClientID == "" {
		mqtt.ClientID = DefaultMQTTClientID
	}

	mqtt.TopicPrefix = strings.Trim(mqtt.TopicPrefix, "/")
	if mqtt.TopicPrefix == "" {
		mqtt.TopicPrefix = DefaultTopicPrefix
	}

	return nil
}
