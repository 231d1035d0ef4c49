package sync

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Applier receives configuration lists. *Manager is the production Applier.
type Applier interface {
	Apply(ctx context.Context, configs []BindingConfig) ApplyResult
}

// ConfigListener keeps the binding set in step with the configuration store.
type ConfigListener struct {
	store    ConfigStore
	notifier Notifier
	applier  Applier
	channels Channels
	setLevel func(string) error

	lastToken atomic.Value // string
}

// NewConfigListener creates a listener. Log-level messages are applied with
// SetLogLevel.
func NewConfigListener(store ConfigStore, notifier Notifier, applier Applier, channels Channels) *ConfigListener {
	return &ConfigListener{
		store:    store,
		notifier: notifier,
		applier:  applier,
		channels: channels,
		setLevel: SetLogLevel,
	}
}

// LastToken returns the modification token of the last applied snapshot.
func (c *ConfigListener) LastToken() string {
	token, _ := c.lastToken.Load().(string)
	return token
}

// Run applies the stored configuration once, then follows change
// notifications until ctx is done. Only a failed subscription is returned.
func (c *ConfigListener) Run(ctx context.Context) error {
	l := sub("listener")

	c.refresh(ctx, "")

	msgs, err := c.notifier.Subscribe(ctx, c.channels.LogLevel, c.channels.ConfigModified)
	if err != nil {
		return fmt.Errorf("config listener: %w", err)
	}
	l.Info("listening for configuration changes", "logLevel", c.channels.LogLevel, "configModified", c.channels.ConfigModified)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("config listener: notification channel closed")
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *ConfigListener) handle(ctx context.Context, msg Notification) {
	l := sub("listener")
	switch msg.Channel {
	case c.channels.LogLevel:
		if err := c.setLevel(msg.Payload); err != nil {
			l.Warn("log level change ignored", "level", msg.Payload, "err", err)
			return
		}
		l.Info("log level changed", "level", msg.Payload)

	case c.channels.ConfigModified:
		if msg.Payload == c.LastToken() {
			l.Debug("configuration already applied", "modified", msg.Payload)
			return
		}
		l.Info("configuration modified", "modified", msg.Payload, "previous", c.LastToken())
		c.refresh(ctx, msg.Payload)

	default:
		l.Debug("message on unknown channel", "channel", msg.Channel)
	}
}

// refresh fetches the snapshot and applies it. On a fetch error the running
// bindings and the last token are left as they were.
func (c *ConfigListener) refresh(ctx context.Context, announced string) {
	l := sub("listener")

	snap, err := c.store.Fetch(ctx)
	if err != nil {
		l.Error("configuration fetch failed", "err", err)
		return
	}

	token := snap.Modified
	if token == "" {
		token = announced
	}
	c.lastToken.Store(token)
	l.Info("configuration fetched", "modified", token, "bindings", len(snap.Body))
	c.applier.Apply(ctx, snap.Body)
}
