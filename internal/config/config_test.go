package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate checks required fields and format validations for Settings.
func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name:    "missing socket",
			wantErr: errServerSocketRequired,
		},
		{
			name: "unknown store driver",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				Store:         StoreConfig{Driver: "sqlite"},
			},
			wantErr: errUnknownStoreDriver,
		},
		{
			name: "postgres without dsn",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				Store:         StoreConfig{Driver: "Postgres"},
			},
			wantErr: errDSNRequired,
		},
		{
			name: "redis without address",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				Authority:     AuthorityConfig{Driver: "redis"},
			},
			wantErr: errRedisAddressRequired,
		},
		{
			name: "unknown authority driver",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				Authority:     AuthorityConfig{Driver: "cron"},
			},
			wantErr: errUnknownAuthorityDriver,
		},
		{
			name: "unknown log level",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				LogLevel:      "loud",
			},
			wantErr: errUnknownLogLevel,
		},
		{
			name: "unknown log format",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				LogFormat:     "xml",
			},
			wantErr: errUnknownLogFormat,
		},
		{
			name: "mqtt qos out of range",
			cfg: Config{
				ServerAddress: "127.0.0.1:0",
				MQTT:          MQTTConfig{Broker: "tcp://localhost:1883", QoS: 3},
			},
			wantErr: errInvalidQoS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := tt.cfg
			require.ErrorIs(t, Validate(&cfg), tt.wantErr)
		})
	}

	// Bad socket.
	require.Error(t, Validate(&Config{ServerAddress: "bad:address"}))
}

// TestValidate_Defaults fills every optional field.
func TestValidate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		ServerAddress: "127.0.0.1:0",
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			TopicPrefix: "/home/timers/",
		},
	}

	require.NoError(t, Validate(cfg))
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultSweepInterval, cfg.SweepInterval)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "console", cfg.LogFormat)
	require.Equal(t, StoreDriverBolt, cfg.Store.Driver)
	require.Equal(t, DefaultStoreFilename, cfg.Store.Path)
	require.Equal(t, AuthorityDriverMemory, cfg.Authority.Driver)
	require.Equal(t, DefaultKeyPrefix, cfg.Authority.KeyPrefix)
	require.Equal(t, DefaultPollInterval, cfg.Authority.PollInterval)
	require.Equal(t, DefaultMQTTClientID, cfg.MQTT.ClientID)
	require.Equal(t, "home/timers", cfg.MQTT.TopicPrefix)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	settings := &Config{
		ServerAddress: "127.0.0.1:50051",
		Timeout:       3 * time.Second,
		Store: StoreConfig{
			Driver: StoreDriverPostgres,
			DSN:    "postgres://countdown@localhost/countdown?sslmode=disable",
		},
		Authority: AuthorityConfig{
			Driver:       AuthorityDriverRedis,
			RedisAddress: "localhost:6379",
			PollInterval: 250 * time.Millisecond,
		},
	}

	require.NoError(t, Save(path, settings))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, settings.ServerAddress, loaded.ServerAddress)
	require.Equal(t, settings.Timeout, loaded.Timeout)
	require.Equal(t, settings.Store, loaded.Store)
	require.Equal(t, settings.Authority, loaded.Authority)

	// File exists.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

// TestLoad_DurationStrings parses human-written durations.
func TestLoad_DurationStrings(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	contents := `server_addr: "localhost:50051"
timeout: 2s
sweep_interval: 500ms
store:
  driver: file
  path: timers.json
`

	require.NoError(t, os.WriteFile(path, []byte(contents), DefaultFilePermissions))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Timeout)
	require.Equal(t, 500*time.Millisecond, cfg.SweepInterval)
	require.Equal(t, StoreDriverFile, cfg.Store.Driver)
	require.Equal(t, "timers.json", cfg.Store.Path)
}

// TestLoad_Missing reports a read error.
func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
