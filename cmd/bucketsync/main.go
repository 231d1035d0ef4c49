package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ghyeongl/bucketsync/config"
	bsync "github.com/ghyeongl/bucketsync/sync"
)

var (
	v          = config.New()
	configFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig merges the optional config file and returns the settings.
func loadConfig() (*config.Config, error) {
	if err := config.ReadFile(v, configFile); err != nil {
		return nil, err
	}
	return config.Load(v)
}

// newRedisClient connects and pings. The caller must close the client.
func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := cfg.Redis.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func channels(cfg *config.Config) bsync.Channels {
	return bsync.Channels{
		LogLevel:       cfg.Store.LogLevelChannel,
		ConfigModified: cfg.Store.ConfigChannel,
	}
}

var rootCmd = &cobra.Command{
	Use:          "bucketsync",
	Short:        "Watch directories and queue bucket sync jobs",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync producer daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		bsync.InitLogger(cfg.Log.Dir)
		if err := bsync.SetLogLevel(cfg.Log.Level); err != nil {
			return err
		}

		client, err := newRedisClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return bsync.NewDaemon(cfg, client).Run(ctx)
	},
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the shared binding configuration",
}

var configPushCmd = &cobra.Command{
	Use:   "push <bindings.yaml>",
	Short: "Store a binding list and notify running daemons",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read bindings: %w", err)
		}
		var bindings []bsync.BindingConfig
		if err := yaml.Unmarshal(data, &bindings); err != nil {
			return fmt.Errorf("parse bindings: %w", err)
		}
		for i, b := range bindings {
			if err := b.WithDefaults(cfg.DefaultInclude, cfg.DefaultExclude).Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "warning: binding #%d will be rejected: %v\n", i, err)
			}
		}

		client, err := newRedisClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		snap := bsync.ConfigSnapshot{
			Modified: time.Now().UTC().Format(time.RFC3339Nano),
			Body:     bindings,
		}
		store := bsync.NewRedisConfigStore(client, cfg.Store.Key, channels(cfg))
		if err := store.Put(cmd.Context(), snap); err != nil {
			return err
		}

		fmt.Printf("Stored %d bindings under %s (modified %s)\n", len(bindings), cfg.Store.Key, snap.Modified)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored binding configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newRedisClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		snap, err := bsync.NewRedisConfigStore(client, cfg.Store.Key, channels(cfg)).Fetch(cmd.Context())
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var logLevelCmd = &cobra.Command{
	Use:   "loglevel <level>",
	Short: "Change the log level of every running daemon",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := newRedisClient(cfg)
		if err != nil {
			return err
		}
		defer client.Close() //nolint:errcheck

		if err := bsync.PublishLogLevel(cmd.Context(), client, channels(cfg), args[0]); err != nil {
			return err
		}
		fmt.Printf("Log level %s published\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	if err := config.RegisterRedisFlags(v, rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	if err := config.RegisterFlags(v, runCmd.Flags()); err != nil {
		panic(err)
	}

	configCmd.AddCommand(configPushCmd, configShowCmd)
	rootCmd.AddCommand(runCmd, configCmd, logLevelCmd)
}
