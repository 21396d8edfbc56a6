// Package registry implements the ModelRegistry: named model slots, a
// per-slot load lock, and the router↔fast interlock that shares one
// client identity between the router and fast slots.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/models"
)

// Client is the narrow surface the registry needs from a model client.
// Satisfied by *modelclient.Client.
type Client interface {
	Load(ctx context.Context) error
	Generate(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (modelclient.Response, error)
	Stream(ctx context.Context, messages []models.Message, overrides modelclient.Overrides) (<-chan modelclient.Chunk, <-chan error)
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) bool
	Unload() error
	State() modelclient.State
}

// ClientFactory builds a Client for one slot's configuration. Injected so
// tests can substitute a fake without a real backend.
type ClientFactory func(slotCfg config.ModelSlotConfig) Client

// Info is one slot's runtime state. The router slot and the fast slot
// share the same *Info pointer, so they also share loadMu — acquiring the
// router's load lock and the fast slot's load lock is the same acquire.
type Info struct {
	Slot   config.SlotName
	Config config.ModelSlotConfig
	Client Client

	loadMu sync.Mutex

	mu              sync.Mutex
	lastUsed        time.Time
	useCount        int64
	totalTokens     int64
	totalDurationMs int64
}

// Registry is the ModelRegistry.
type Registry struct {
	factory ClientFactory

	mu         sync.RWMutex
	slots      map[config.SlotName]*Info
	activeSlot config.SlotName
	lastSwitch time.Time

	switchMu sync.Mutex
}

// New creates a Registry. factory is used to construct a Client for every
// registered non-router slot.
func New(factory ClientFactory) *Registry {
	return &Registry{
		factory: factory,
		slots:   make(map[config.SlotName]*Info),
	}
}

// Initialize registers every non-router slot from cfg, loads the fast
// slot, and assigns the fast slot's Info to the router slot so they share
// object identity. If the fast slot is absent from cfg.Models, the router
// slot is left unpopulated and a warning is emitted — this is non-fatal.
func (r *Registry) Initialize(ctx context.Context, cfg config.LLMConfig) error {
	r.mu.Lock()
	for name, slotCfg := range cfg.Models {
		if name == config.SlotRouter {
			continue
		}
		r.slots[name] = &Info{
			Slot:   name,
			Config: slotCfg,
			Client: r.factory(slotCfg),
		}
	}
	r.mu.Unlock()

	if _, ok := cfg.Models[config.SlotFast]; !ok {
		slog.Warn("fast slot missing from configuration, router slot not populated")
		return nil
	}

	if _, err := r.GetClient(ctx, config.SlotFast); err != nil {
		return err
	}

	r.mu.Lock()
	r.slots[config.SlotRouter] = r.slots[config.SlotFast]
	r.mu.Unlock()

	return nil
}

func (r *Registry) info(slot config.SlotName) (*Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.slots[slot]
	if !ok {
		return nil, ErrUnknownSlot
	}
	return info, nil
}

// GetClient returns the loaded client for slot, loading it first if
// necessary. Concurrent callers for the same slot deduplicate on the
// slot's load lock.
func (r *Registry) GetClient(ctx context.Context, slot config.SlotName) (Client, error) {
	info, err := r.info(slot)
	if err != nil {
		return nil, err
	}

	if info.Client.State() == modelclient.StateLoaded {
		return info.Client, nil
	}

	info.loadMu.Lock()
	defer info.loadMu.Unlock()

	if info.Client.State() == modelclient.StateLoaded {
		return info.Client, nil
	}

	if err := info.Client.Load(ctx); err != nil {
		return nil, err
	}
	return info.Client, nil
}

// SwitchTo loads slot's client (as GetClient does) and additionally
// updates the active-slot pointer under the registry-wide switch lock.
func (r *Registry) SwitchTo(ctx context.Context, slot config.SlotName) (Client, error) {
	client, err := r.GetClient(ctx, slot)
	if err != nil {
		return nil, err
	}

	r.switchMu.Lock()
	r.activeSlot = slot
	r.lastSwitch = time.Now().UTC()
	r.switchMu.Unlock()

	return client, nil
}

// ActiveSlot returns the slot last selected by SwitchTo and the time of
// that switch.
func (r *Registry) ActiveSlot() (config.SlotName, time.Time) {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()
	return r.activeSlot, r.lastSwitch
}

// RecordUsage atomically increments a slot's usage counters.
func (r *Registry) RecordUsage(slot config.SlotName, tokens int64, durationMs int64) {
	info, err := r.info(slot)
	if err != nil {
		return
	}
	info.mu.Lock()
	info.useCount++
	info.totalTokens += tokens
	info.totalDurationMs += durationMs
	info.lastUsed = time.Now().UTC()
	info.mu.Unlock()
}

// SlotStats reports per-slot usage aggregates.
type SlotStats struct {
	Slot          config.SlotName `json:"slot"`
	UseCount      int64           `json:"use_count"`
	AvgDurationMs float64         `json:"avg_duration_ms"`
	LastUsed      time.Time       `json:"last_used"`
	TotalTokens   int64           `json:"total_tokens"`
}

// Stats reports usage aggregates for every registered slot.
func (r *Registry) Stats() map[config.SlotName]SlotStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[config.SlotName]SlotStats, len(r.slots))
	for name, info := range r.slots {
		info.mu.Lock()
		avg := 0.0
		if info.useCount > 0 {
			avg = float64(info.totalDurationMs) / float64(info.useCount)
		}
		out[name] = SlotStats{
			Slot:          name,
			UseCount:      info.useCount,
			AvgDurationMs: avg,
			LastUsed:      info.lastUsed,
			TotalTokens:   info.totalTokens,
		}
		info.mu.Unlock()
	}
	return out
}

// HealthCheck probes every registered client, deduplicating by client
// identity so the shared fast/router client is only probed once.
func (r *Registry) HealthCheck(ctx context.Context) map[config.SlotName]bool {
	r.mu.RLock()
	slots := make(map[config.SlotName]*Info, len(r.slots))
	for k, v := range r.slots {
		slots[k] = v
	}
	r.mu.RUnlock()

	seen := make(map[Client]bool)
	out := make(map[config.SlotName]bool, len(slots))
	for name, info := range slots {
		healthy, ok := seen[info.Client]
		if !ok {
			healthy = info.Client.HealthCheck(ctx)
			seen[info.Client] = healthy
		}
		out[name] = healthy
	}
	return out
}

// Shutdown unloads every unique client exactly once.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	slots := make(map[config.SlotName]*Info, len(r.slots))
	for k, v := range r.slots {
		slots[k] = v
	}
	r.mu.RUnlock()

	unloaded := make(map[Client]bool)
	for _, info := range slots {
		if unloaded[info.Client] {
			continue
		}
		if err := info.Client.Unload(); err != nil {
			slog.Error("unloading model client failed", "slot", info.Slot, "error", err)
		}
		unloaded[info.Client] = true
	}
}
