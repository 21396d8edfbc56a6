// Package runtime brings every component up in dependency order and
// exposes the wired Orchestrator, event bus, and stores a gin server
// needs. It replaces a single monolithic main() with an explicit,
// partially-fault-tolerant bootstrap, grounded on tarsy's cmd/tarsy
// startup sequence.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sena-run/core/pkg/backend"
	"github.com/sena-run/core/pkg/config"
	"github.com/sena-run/core/pkg/errs"
	"github.com/sena-run/core/pkg/events"
	"github.com/sena-run/core/pkg/intent"
	"github.com/sena-run/core/pkg/memory"
	"github.com/sena-run/core/pkg/modelclient"
	"github.com/sena-run/core/pkg/orchestrator"
	"github.com/sena-run/core/pkg/personality"
	"github.com/sena-run/core/pkg/registry"
	"github.com/sena-run/core/pkg/retrieval"
	"github.com/sena-run/core/pkg/storage"
	"github.com/sena-run/core/pkg/telemetry"
)

// Runtime holds every long-lived component, wired and ready.
type Runtime struct {
	Config       *config.Config
	Store        *storage.Store
	Backend      *backend.Manager
	Registry     *registry.Registry
	Classifier   *errs.Classifier
	Telemetry    *telemetry.Collector
	Fanout       *events.Fanout
	Bus          *events.Bus
	ShortTerm    *memory.ShortTermMemory
	LongTerm     *memory.LongTermMemory
	Personality  *personality.Manager
	IntentRouter *intent.Router
	Retrieval    *retrieval.Engine
	Extensions   *orchestrator.ExtensionRegistry
	Orchestrator *orchestrator.Orchestrator
}

// New brings up every component in dependency order: storage, the
// backend process, the model registry, telemetry, the event bus, the
// memory/personality/intent/retrieval layers, and finally the
// orchestrator that ties them together.
//
// A failure to reach the backend or load its fast-slot model is
// reported but does not abort startup — the orchestrator still comes
// up and will surface a recoverable error on the first request that
// needs a model, per the bootstrap error taxonomy.
func New(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	store, err := storage.Open(ctx, storage.Config{
		Path:         cfg.Storage.Path,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
		BusyTimeout:  cfg.Storage.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	backendMgr := backend.New(cfg.LLM.BaseURL, "ollama", cfg.LLM.Process.StartupTimeout)
	modelNames := make([]string, 0, len(cfg.LLM.Models))
	for _, m := range cfg.LLM.Models {
		modelNames = append(modelNames, m.Name)
	}
	if ok, message, err := backendMgr.EnsureRunning(ctx, cfg.LLM.Process.Manage, modelNames); err != nil || !ok {
		slog.Warn("backend not confirmed running at startup, continuing degraded", "message", message, "error", err)
	}

	reg := registry.New(func(slotCfg config.ModelSlotConfig) registry.Client {
		return modelclient.New(cfg.LLM.BaseURL, slotCfg.Name, cfg.LLM.Timeout)
	})
	if err := reg.Initialize(ctx, cfg.LLM); err != nil {
		slog.Warn("model registry initialization degraded", "error", err)
	}

	telemetryCollector := telemetry.New(store, cfg.Telemetry.CollectInterval)
	if cfg.Telemetry.Enabled {
		telemetryCollector.Start(ctx)
	}

	classifier := errs.NewClassifier(telemetryCollector)

	fanout := events.NewFanout(cfg.WS.MaxConnections)
	bus := events.NewBus(fanout)

	shortTerm := memory.NewShortTerm(store, cfg.Memory.ShortTerm.MaxMessages, cfg.Memory.ShortTerm.ExpireAfter)

	var embedder memory.Embedder
	if cfg.Memory.Embeddings.Model != "" {
		embedder = modelclient.New(cfg.LLM.BaseURL, cfg.Memory.Embeddings.Model, cfg.LLM.Timeout)
	}
	longTerm := memory.NewLongTerm(store, embedder, cfg.Memory.Embeddings.Dimension)

	personalityMgr := personality.New(store, reg, cfg.Memory.Personality)
	intentRouter := intent.New(reg)
	retrievalEngine := retrieval.New(longTerm, embedder)
	extensions := orchestrator.NewExtensionRegistry()

	orch := orchestrator.New(orchestrator.Deps{
		Intent:                  intentRouter,
		Retrieval:               retrievalEngine,
		ShortTerm:               shortTerm,
		Personality:             personalityMgr,
		Models:                  reg,
		Extensions:              extensions,
		Conversations:           store,
		Telemetry:               telemetryCollector,
		Publisher:               bus,
		LongTermExtractInterval: cfg.Memory.LongTerm.ExtractInterval,
	})

	return &Runtime{
		Config:       cfg,
		Store:        store,
		Backend:      backendMgr,
		Registry:     reg,
		Classifier:   classifier,
		Telemetry:    telemetryCollector,
		Fanout:       fanout,
		Bus:          bus,
		ShortTerm:    shortTerm,
		LongTerm:     longTerm,
		Personality:  personalityMgr,
		IntentRouter: intentRouter,
		Retrieval:    retrievalEngine,
		Extensions:   extensions,
		Orchestrator: orch,
	}, nil
}

// Shutdown stops the background telemetry flush loop, unloads every
// loaded model, and closes the storage handle, in reverse dependency
// order.
func (r *Runtime) Shutdown(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	r.Telemetry.Stop(stopCtx)
	r.Registry.Shutdown()

	if err := r.Store.Close(); err != nil {
		return fmt.Errorf("closing storage: %w", err)
	}
	return nil
}
