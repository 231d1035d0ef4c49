// Package config loads bucketsync process settings from flags, environment
// variables and an optional config file.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. BUCKETSYNC_MOUNT_ROOT.
const EnvPrefix = "BUCKETSYNC"

type Config struct {
	MountRoot      string
	DefaultInclude string
	DefaultExclude string

	Redis    RedisConfig
	Store    StoreConfig
	Queue    QueueConfig
	Watch    WatchConfig
	HTTPAddr string
	Log      LogConfig

	IgnoreLocalDeletes    bool
	SuppressInventoryScan bool
}

type RedisConfig struct {
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

type StoreConfig struct {
	Key             string
	LogLevelChannel string
	ConfigChannel   string
}

type QueueConfig struct {
	Prefix      string
	OutcomeTTL  time.Duration
	MaxInFlight int
}

type WatchConfig struct {
	Debounce time.Duration
}

type LogConfig struct {
	Dir   string
	Level string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mount-root", "/data")
	v.SetDefault("include", "**/*")
	v.SetDefault("exclude", "**/.*")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.host", "redis")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("store.key", "bucketsync:config")
	v.SetDefault("store.loglevel-channel", "bucketsync:loglevel")
	v.SetDefault("store.config-channel", "bucketsync:config:modified")
	v.SetDefault("queue.prefix", "bq")
	v.SetDefault("queue.outcome-ttl", 10*time.Minute)
	v.SetDefault("queue.max-inflight", 64)
	v.SetDefault("watch.debounce", 300*time.Millisecond)
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("ignore-local-deletes", false)
	v.SetDefault("suppress-inventory-scan", false)
}

// RegisterFlags adds the daemon flags to fs and binds them to v.
func RegisterFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("mount-root", v.GetString("mount-root"), "root under which every binding's syncDir lives")
	fs.String("include", v.GetString("include"), "default include pattern for bindings that set none")
	fs.String("exclude", v.GetString("exclude"), "default exclude pattern for bindings that set none")
	fs.String("http.addr", v.GetString("http.addr"), "status API listen address, empty to disable")
	fs.String("log.dir", v.GetString("log.dir"), "directory for rotating log files, empty for console only")
	fs.String("log.level", v.GetString("log.level"), "initial log level")
	fs.Bool("ignore-local-deletes", false, "never propagate local deletes, whatever the binding says")
	fs.Bool("suppress-inventory-scan", false, "skip the startup inventory comparison for every binding")
	fs.Duration("watch.debounce", v.GetDuration("watch.debounce"), "quiet period before filesystem events are reported")
	return v.BindPFlags(fs)
}

// RegisterRedisFlags adds connection flags shared by every command.
func RegisterRedisFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.String("redis.url", v.GetString("redis.url"), "redis URL, overrides host/port/password/db")
	fs.String("redis.host", v.GetString("redis.host"), "redis host")
	fs.String("redis.port", v.GetString("redis.port"), "redis port")
	fs.String("store.key", v.GetString("store.key"), "key holding the binding configuration")
	return v.BindPFlags(fs)
}

// New returns a viper instance with defaults and BUCKETSYNC_* environment
// variables wired in.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML, TOML or JSON config file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	return nil
}

// Load builds a Config from v.
func Load(v *viper.Viper) (*Config, error) {
	mountRoot, err := homedir.Expand(v.GetString("mount-root"))
	if err != nil {
		return nil, fmt.Errorf("expand mount root: %w", err)
	}
	logDir, err := homedir.Expand(v.GetString("log.dir"))
	if err != nil {
		return nil, fmt.Errorf("expand log dir: %w", err)
	}
	if mountRoot == "" {
		return nil, fmt.Errorf("mount root is required")
	}

	return &Config{
		MountRoot:      mountRoot,
		DefaultInclude: v.GetString("include"),
		DefaultExclude: v.GetString("exclude"),
		Redis: RedisConfig{
			URL:      v.GetString("redis.url"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Store: StoreConfig{
			Key:             v.GetString("store.key"),
			LogLevelChannel: v.GetString("store.loglevel-channel"),
			ConfigChannel:   v.GetString("store.config-channel"),
		},
		Queue: QueueConfig{
			Prefix:      v.GetString("queue.prefix"),
			OutcomeTTL:  v.GetDuration("queue.outcome-ttl"),
			MaxInFlight: v.GetInt("queue.max-inflight"),
		},
		Watch: WatchConfig{
			Debounce: v.GetDuration("watch.debounce"),
		},
		HTTPAddr: v.GetString("http.addr"),
		Log: LogConfig{
			Dir:   logDir,
			Level: v.GetString("log.level"),
		},
		IgnoreLocalDeletes:    v.GetBool("ignore-local-deletes"),
		SuppressInventoryScan: v.GetBool("suppress-inventory-scan"),
	}, nil
}

// Options returns go-redis client options. URL wins over the discrete fields.
func (c RedisConfig) Options() (*redis.Options, error) {
	if c.URL != "" {
		opt, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opt, nil
	}

	host := c.Host
	if host == "" {
		host = "127.0.0.1"
	}

	port := c.Port
	if port == "" {
		port = "6379"
	}

	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: c.Password,
		DB:       c.DB,
	}, nil
}
