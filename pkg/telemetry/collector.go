// Package telemetry buffers metric samples in memory and periodically
// flushes them to storage in a single batch insert, so the request path
// never blocks on a database write.
package telemetry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sena-run/core/pkg/models"
)

const histogramCap = 1000

// Writer is the narrow storage dependency the collector needs: a batched
// write inside one transaction. Satisfied by *storage.Store.
type Writer interface {
	ExecuteMany(ctx context.Context, stmt string, rows [][]any) error
}

// Collector is the TelemetryCollector: an in-memory hot path guarded by one
// lock, plus a background flush task.
type Collector struct {
	writer          Writer
	collectInterval time.Duration

	mu         sync.Mutex
	buffer     []models.TelemetryMetric
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New creates a Collector. collectInterval defaults to 30s if zero.
func New(writer Writer, collectInterval time.Duration) *Collector {
	if collectInterval <= 0 {
		collectInterval = 30 * time.Second
	}
	return &Collector{
		writer:          writer,
		collectInterval: collectInterval,
		counters:        make(map[string]float64),
		gauges:          make(map[string]float64),
		histograms:      make(map[string][]float64),
		stopCh:          make(chan struct{}),
	}
}

// RecordMetric appends a sample to the unflushed buffer and updates the
// in-memory aggregate for its kind. Safe for concurrent use.
func (c *Collector) RecordMetric(name string, value float64, tags map[string]string, kind models.MetricKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, models.TelemetryMetric{
		Name:      name,
		Value:     value,
		Kind:      kind,
		Tags:      tags,
		Timestamp: time.Now().UTC(),
	})

	switch kind {
	case models.MetricCounter:
		c.counters[name] += value
	case models.MetricGauge:
		c.gauges[name] = value
	case models.MetricHistogram:
		samples := append(c.histograms[name], value)
		if len(samples) > histogramCap {
			samples = samples[len(samples)-histogramCap:]
		}
		c.histograms[name] = samples
	}
}

// Start launches the background flush loop. Safe to call once; subsequent
// calls are no-ops.
func (c *Collector) Start(ctx context.Context) {
	if c.started {
		return
	}
	c.started = true

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runFlushLoop(ctx)
	}()
}

func (c *Collector) runFlushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.collectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.flush(ctx); err != nil {
				slog.Error("telemetry flush failed", "error", err)
			}
		}
	}
}

// Stop signals the flush loop to exit and performs one final flush.
func (c *Collector) Stop(ctx context.Context) {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	if err := c.flush(ctx); err != nil {
		slog.Error("telemetry final flush failed", "error", err)
	}
}

// flush atomically swaps the buffer with an empty one and bulk-inserts
// everything that was buffered in a single transaction.
func (c *Collector) flush(ctx context.Context) error {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(pending))
	for _, m := range pending {
		rows = append(rows, []any{m.Name, m.Value, string(m.Kind), encodeTags(m.Tags), m.Timestamp})
	}

	err := c.writer.ExecuteMany(ctx,
		"INSERT INTO telemetry_metrics (name, value, kind, tags, timestamp) VALUES (?, ?, ?, ?, ?)",
		rows,
	)
	if err != nil {
		return ErrFlushFailed
	}
	return nil
}

// Stats is a point-in-time snapshot of the in-memory aggregates, for a
// debug endpoint to surface without touching storage.
type Stats struct {
	Counters      map[string]float64 `json:"counters"`
	Gauges        map[string]float64 `json:"gauges"`
	HistogramSize map[string]int     `json:"histogram_size"`
	Pending       int                `json:"pending"`
}

// Stats returns a copy of the current counters, gauges, and histogram
// sample counts, plus how many samples are buffered awaiting flush.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	sizes := make(map[string]int, len(c.histograms))
	for k, v := range c.histograms {
		sizes[k] = len(v)
	}

	return Stats{
		Counters:      counters,
		Gauges:        gauges,
		HistogramSize: sizes,
		Pending:       len(c.buffer),
	}
}

func encodeTags(tags map[string]string) any {
	if len(tags) == 0 {
		return nil
	}
	parts := make([]string, 0, len(tags))
	for k, v := range tags {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	out := parts[0]
	for _, p := range parts[1:] {
		out += "," + p
	}
	return out
}
