package sync

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marusama/semaphore/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ghyeongl/bucketsync/config"
)

// Daemon wires the configuration listener, the binding manager and the
// status API around one Redis connection.
type Daemon struct {
	cfg      *config.Config
	client   redis.UniversalClient
	events   *EventBus
	manager  *Manager
	listener *ConfigListener
	handlers *Handlers
}

// NewDaemon creates a daemon. client is shared by every producer, the
// inventory cache, the config store and the notifier.
func NewDaemon(cfg *config.Config, client redis.UniversalClient) *Daemon {
	events := NewEventBus()
	fsys := afero.NewOsFs()

	opts := BindingOptions{
		MountRoot:             cfg.MountRoot,
		IgnoreLocalDeletes:    cfg.IgnoreLocalDeletes,
		SuppressInventoryScan: cfg.SuppressInventoryScan,
		MaxInFlight:           cfg.Queue.MaxInFlight,
	}
	queueOpts := QueueOptions{
		Prefix:     cfg.Queue.Prefix,
		OutcomeTTL: cfg.Queue.OutcomeTTL,
	}
	deps := BindingDeps{
		Fs:    fsys,
		Watch: NewFSWatch(fsys, cfg.Watch.Debounce),
		OpenQueue: func(ctx context.Context, name string) (JobQueue, error) {
			q, err := NewRedisQueue(ctx, client, name, queueOpts)
			if err != nil {
				return nil, err
			}
			return q, nil
		},
		Cache:   NewRedisCache(client),
		Events:  events,
		Submits: semaphore.New(max(cfg.Queue.MaxInFlight, 1)),
	}

	manager := NewManager(func(bc BindingConfig) (Runner, error) {
		b, err := NewBinding(bc, opts, deps)
		if err != nil {
			return nil, err
		}
		return b, nil
	}, cfg.DefaultInclude, cfg.DefaultExclude)

	channels := Channels{
		LogLevel:       cfg.Store.LogLevelChannel,
		ConfigModified: cfg.Store.ConfigChannel,
	}
	store := NewRedisConfigStore(client, cfg.Store.Key, channels)
	listener := NewConfigListener(store, NewRedisNotifier(client), manager, channels)

	return &Daemon{
		cfg:      cfg,
		client:   client,
		events:   events,
		manager:  manager,
		listener: listener,
		handlers: NewHandlers(manager, listener, events, cfg.MountRoot),
	}
}

// Manager returns the binding manager.
func (d *Daemon) Manager() *Manager {
	return d.manager
}

// Run follows configuration changes and serves the status API until ctx is
// cancelled, then stops every binding.
func (d *Daemon) Run(ctx context.Context) error {
	l := sub("daemon")
	l.Info("bucketsync daemon starting", "mountRoot", d.cfg.MountRoot, "configKey", d.cfg.Store.Key)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return d.listener.Run(gctx)
	})

	if d.cfg.HTTPAddr != "" {
		srv := &http.Server{
			Addr:              d.cfg.HTTPAddr,
			Handler:           d.handlers.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			l.Info("status API listening", "addr", d.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	d.manager.Close(context.Background())
	if err != nil && ctx.Err() == nil {
		l.Error("daemon stopped with error", "err", err)
		return err
	}
	l.Info("bucketsync daemon stopped")
	return nil
}
