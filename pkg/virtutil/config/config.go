package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/isql"
	"github.com/virtutil/virtutil/pkg/virtutil/logging"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Daily      bool   `mapstructure:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level"`
	Path       string            `mapstructure:"path"`
	Format     string            `mapstructure:"format"`
	Rotation   RotationConfig    `mapstructure:"rotation"`
	Components map[string]string `mapstructure:"components"`
}

// ConnectionConfig is the isql login.
type ConnectionConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// DockerConfig routes isql through a container.
type DockerConfig struct {
	Path      string `mapstructure:"path"`
	ISQLPath  string `mapstructure:"isql_path"`
	Container string `mapstructure:"container"`
}

// LoadConfig holds loader tuning.
type LoadConfig struct {
	BatchSize          int `mapstructure:"batch_size"`
	CheckpointInterval int `mapstructure:"checkpoint_interval"`
	SchedulerInterval  int `mapstructure:"scheduler_interval"`
}

// HistoryConfig controls run history.
type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// Config represents the application configuration.
type Config struct {
	Connection ConnectionConfig `mapstructure:"connection"`
	Docker     DockerConfig     `mapstructure:"docker"`
	ISQL       struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"isql"`
	Load    LoadConfig    `mapstructure:"load"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// New returns a viper instance with defaults, environment binding and the
// config file read. An explicit file must exist; the default location is
// optional. Callers bind flags to it before calling Unmarshal.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		dir, err := ConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(dir)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("connection.host", DefaultHost)
	v.SetDefault("connection.port", DefaultPort)
	v.SetDefault("connection.user", DefaultUser)
	v.SetDefault("connection.password", DefaultPassword)

	v.SetDefault("docker.path", DefaultDocker)
	v.SetDefault("docker.isql_path", DefaultISQLPath)
	v.SetDefault("docker.container", "")
	v.SetDefault("isql.path", DefaultISQLPath)

	v.SetDefault("load.batch_size", DefaultBatchSize)
	v.SetDefault("load.checkpoint_interval", DefaultCheckpointInterval)
	v.SetDefault("load.scheduler_interval", DefaultSchedulerInterval)

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "") // Empty means history.DefaultDir
	v.SetDefault("history.retention_days", DefaultRetentionDays)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "") // Empty means logging.DefaultLogPath
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.rotation.max_size", "10MB")
	v.SetDefault("logging.rotation.max_age", 30)
	v.SetDefault("logging.rotation.max_backups", 5)
	v.SetDefault("logging.rotation.daily", true)
	v.SetDefault("logging.components", map[string]string{})
}

// Unmarshal decodes v and expands ~ in paths.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{&cfg.History.Path, &cfg.Logging.Path} {
		expanded, err := ExpandPath(*p)
		if err != nil {
			return nil, err
		}
		*p = expanded
	}
	return &cfg, nil
}

// Load reads the default config file and environment.
func Load() (*Config, error) {
	v, err := New("")
	if err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

// Target converts the connection settings to an isql target.
func (c *Config) Target() isql.Target {
	return isql.Target{
		Host:     c.Connection.Host,
		Port:     c.Connection.Port,
		User:     c.Connection.User,
		Password: c.Connection.Password,
		ISQLPath: c.ISQL.Path,
		Docker: isql.DockerTarget{
			Path:      c.Docker.Path,
			Container: c.Docker.Container,
			ISQLPath:  c.Docker.ISQLPath,
		},
	}
}

// HistoryDir is the configured history directory or the default.
func (c *Config) HistoryDir() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return history.DefaultDir()
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() (logging.Config, error) {
	out := logging.DefaultConfig()
	out.Level = c.Logging.Level
	out.Format = c.Logging.Format
	out.Components = c.Logging.Components
	if c.Logging.Path != "" {
		out.Path = c.Logging.Path
	}

	r := c.Logging.Rotation
	if r.MaxSize != "" {
		size, err := types.ParseSize(r.MaxSize)
		if err != nil {
			return out, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		out.Rotation.MaxSize = size
	}
	out.Rotation.MaxAge = r.MaxAge
	out.Rotation.MaxBackups = r.MaxBackups
	out.Rotation.Daily = r.Daily
	return out, nil
}

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, AppName), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", AppName), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DataDir returns $XDG_DATA_HOME/virtutil/ for the ledger and history.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// StateDir returns $XDG_STATE_HOME/virtutil/ for log files.
func StateDir() string {
	return filepath.Join(xdg.StateHome, AppName)
}

// WriteDefault writes a commented default config file unless one exists.
// It returns the path and whether a file was written.
func WriteDefault() (string, bool, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", false, err
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	} else if !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to check config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultFile()), 0o600); err != nil {
		return "", false, fmt.Errorf("failed to write default config: %w", err)
	}
	return path, true, nil
}

func defaultFile() string {
	var comps strings.Builder
	for _, name := range []string{"docker", "isql", "loader", "proc"} {
		fmt.Fprintf(&comps, "    %s: %s\n", name, DefaultComponents[name])
	}

	return fmt.Sprintf(`# virtutil configuration

# isql login used by load, load-parallel, dump and rebuild-index
connection:
  host: %s
  port: %d
  user: %s
  password: %s

# isql binary on the host
isql:
  path: %s

# Run isql inside a container with "docker exec" when container is set
docker:
  path: %s
  isql_path: %s
  container: ""

# Bulk load tuning
load:
  batch_size: %d
  checkpoint_interval: %d  # minutes, restored after loading
  scheduler_interval: %d   # minutes, restored after loading

# Run history
history:
  enabled: true
  # Empty means $XDG_DATA_HOME/virtutil/history
  path: ""
  retention_days: %d

# Logging configuration
logging:
  # Log level: debug, info, warn, error
  level: info
  # Log file path (empty means use default: $XDG_STATE_HOME/virtutil/virtutil.log)
  path: ""
  # text, json or logfmt
  format: text
  rotation:
    max_size: 10MB
    max_age: 30       # days
    max_backups: 5
    daily: true
  # Per-component log levels
  components:
%s`, DefaultHost, DefaultPort, DefaultUser, DefaultPassword, DefaultISQLPath,
		DefaultDocker, DefaultISQLPath, DefaultBatchSize, DefaultCheckpointInterval,
		DefaultSchedulerInterval, DefaultRetentionDays, comps.String())
}

// ExpandPath expands ~ in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}
