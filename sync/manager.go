package sync

import (
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"github.com/maruel/natural"
	"github.com/samber/lo"
)

// Runner is a binding as seen by the Manager.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Status() BindingStatus
}

// BindingFactory builds an unstarted binding for a validated config.
type BindingFactory func(cfg BindingConfig) (Runner, error)

// ApplyResult summarizes one Apply pass.
type ApplyResult struct {
	Started     int
	Stopped     int
	Kept        int
	Rejected    []error // configuration errors, one per rejected entry
	StartFailed []error // transport errors while starting a binding
}

// Manager owns the set of running bindings, keyed by identity.
type Manager struct {
	mu             gosync.Mutex
	active         map[BindingKey]Runner
	newBinding     BindingFactory
	defaultInclude string
	defaultExclude string
}

// NewManager creates a manager with no bindings. Empty include/exclude
// patterns in incoming configs are filled from the defaults.
func NewManager(factory BindingFactory, defaultInclude, defaultExclude string) *Manager {
	return &Manager{
		active:         make(map[BindingKey]Runner),
		newBinding:     factory,
		defaultInclude: defaultInclude,
		defaultExclude: defaultExclude,
	}
}

// Apply makes the running set match configs: bindings whose key is absent
// are stopped, configs whose key is not running are started, the rest are
// left alone. Malformed entries are rejected individually. Calls are
// serialized.
func (m *Manager) Apply(ctx context.Context, configs []BindingConfig) ApplyResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := sub("manager")
	var res ApplyResult

	valid := make([]BindingConfig, 0, len(configs))
	wanted := make(map[BindingKey]struct{}, len(configs))
	for i, cfg := range configs {
		cfg = cfg.WithDefaults(m.defaultInclude, m.defaultExclude)
		if err := cfg.Validate(); err != nil {
			err = fmt.Errorf("binding #%d (%s): %w", i, cfg.Key(), err)
			l.Error("configuration error", "index", i, "err", err)
			res.Rejected = append(res.Rejected, err)
			continue
		}
		valid = append(valid, cfg)
		wanted[cfg.Key()] = struct{}{}
	}

	next := make(map[BindingKey]Runner, len(valid))
	for key, r := range m.active {
		if _, ok := wanted[key]; !ok {
			l.Info("stopping stale binding", "binding", key.String())
			r.Stop()
			res.Stopped++
			continue
		}
		next[key] = r
	}
	res.Kept = len(next)

	for i, cfg := range valid {
		key := cfg.Key()
		if _, ok := next[key]; ok {
			l.Debug("binding unchanged", "binding", key.String())
			continue
		}

		r, err := m.newBinding(cfg)
		if err != nil {
			err = fmt.Errorf("binding #%d (%s): %w", i, key, err)
			l.Error("configuration error", "err", err)
			res.Rejected = append(res.Rejected, err)
			continue
		}
		if err := r.Start(ctx); err != nil {
			err = fmt.Errorf("binding %s: %w", key, err)
			l.Error("binding start failed", "err", err)
			res.StartFailed = append(res.StartFailed, err)
			continue
		}
		next[key] = r
		res.Started++
	}

	m.active = next
	l.Info("configuration applied",
		"bindings", len(next), "started", res.Started, "stopped", res.Stopped,
		"kept", res.Kept, "rejected", len(res.Rejected), "startFailed", len(res.StartFailed))
	return res
}

// Statuses returns the status of every running binding in natural key order.
func (m *Manager) Statuses() []BindingStatus {
	m.mu.Lock()
	list := lo.MapToSlice(m.active, func(_ BindingKey, r Runner) BindingStatus {
		return r.Status()
	})
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return natural.Less(list[i].Key, list[j].Key)
	})
	return list
}

// Len returns the number of running bindings.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Close stops every binding.
func (m *Manager) Close(ctx context.Context) {
	m.Apply(ctx, nil)
}
