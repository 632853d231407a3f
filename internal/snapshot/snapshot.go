// Package snapshot publishes immutable, versioned materializations of the
// aggregated state and keeps them fresh with bounded-staleness refresh
// passes that read only records newer than the saved source offsets.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wurstmineberg/api/internal/aggregate"
	"github.com/wurstmineberg/api/internal/checkpoint"
	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/internal/metrics"
	"github.com/wurstmineberg/api/internal/normalize"
	"github.com/wurstmineberg/api/internal/people"
	"github.com/wurstmineberg/api/internal/source"
	"github.com/wurstmineberg/api/internal/tracing"
	"github.com/wurstmineberg/api/pkg/types"
)

// ErrNoSnapshot is returned when no snapshot has ever been published and
// a refresh could not produce one (first run with all sources down).
var ErrNoSnapshot = errors.New("no snapshot available")

// Snapshot is one immutable materialization of the aggregate state.
type Snapshot struct {
	State       *aggregate.State
	People      *people.Registry
	Version     uint64
	GeneratedAt time.Time

	// Diagnostic counters as of this snapshot's refresh pass.
	Stats       types.ParseStats
	SkipReasons map[string]int64
}

// Age returns how old the snapshot is
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.GeneratedAt)
}

// Options wires the cache to the rest of the pipeline.
type Options struct {
	Sources     []source.Source
	Reader      *source.Reader
	Normalizer  *normalize.Normalizer
	Resolver    *people.Resolver
	Aggregator  *aggregate.Aggregator
	Watcher     *source.Watcher
	Checkpoints *checkpoint.Manager
	Metrics     *metrics.Collector
	Tracing     *tracing.Provider
	Logger      *logging.Logger
}

// Cache holds the current and previous published snapshots and runs
// refresh passes. Reads are lock-free; at most one refresh pass runs at
// a time, and concurrent RefreshIfStale callers wait for the in-flight
// pass rather than starting their own.
type Cache struct {
	opts   Options
	logger *logging.Logger

	current  atomic.Pointer[Snapshot]
	previous atomic.Pointer[Snapshot]

	refreshMu sync.Mutex
}

// NewCache creates a snapshot cache
func NewCache(opts Options) *Cache {
	return &Cache{
		opts:   opts,
		logger: opts.Logger.WithComponent("snapshot"),
	}
}

// Current returns the latest published snapshot without blocking. It is
// nil before the first successful refresh.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Previous returns the snapshot published before the current one, kept
// for diffing and versioned responses.
func (c *Cache) Previous() *Snapshot {
	return c.previous.Load()
}

// RefreshIfStale returns the current snapshot, refreshing first when it
// is older than maxAge. Called twice within maxAge it performs at most
// one underlying re-aggregation pass.
func (c *Cache) RefreshIfStale(ctx context.Context, maxAge time.Duration) (*Snapshot, error) {
	if snap := c.current.Load(); snap != nil && snap.Age(time.Now()) < maxAge {
		return snap, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// The pass we waited on may have refreshed already.
	if snap := c.current.Load(); snap != nil && snap.Age(time.Now()) < maxAge {
		return snap, nil
	}
	return c.refresh(ctx)
}

// Refresh forces a refresh pass regardless of staleness
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refresh(ctx)
}

// refresh runs one read-normalize-aggregate pass and publishes the
// result. A failed pass keeps the previously published snapshot; stale
// but valid data is preferred over an error.
func (c *Cache) refresh(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	ctx, span := c.opts.Tracing.StartRefresh(ctx)
	defer span.End()

	prior := c.current.Load()

	// Nothing changed on disk: republish the same state with a fresh
	// generation timestamp instead of re-reading every source.
	if prior != nil && !c.opts.Watcher.Dirty() {
		c.opts.Metrics.RefreshSkipped.Inc()
		snap := &Snapshot{
			State:       prior.State,
			People:      prior.People,
			Version:     prior.Version + 1,
			GeneratedAt: time.Now(),
			Stats:       prior.Stats,
			SkipReasons: prior.SkipReasons,
		}
		c.publish(snap)
		return snap, nil
	}
	c.opts.Watcher.MarkClean()

	reg := c.opts.Resolver.Snapshot()
	diag := c.opts.Normalizer.Diagnostics()

	var (
		events    []types.Event
		available int
		firstErr  error
		truncated = make(map[string]bool)
	)

	for _, src := range c.opts.Sources {
		batch, err := c.readSource(ctx, src)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			available++
		}
		// A partial failure still yields records, and their offsets are
		// already checkpointed; dropping them here would lose them for
		// good.
		if batch.Truncated {
			truncated[src.World] = true
		}
		events = append(events, c.normalizeBatch(src, batch.Records)...)
	}

	if available == 0 && prior == nil && len(events) == 0 {
		c.opts.Metrics.RefreshFailures.Inc()
		if firstErr != nil {
			tracing.RecordError(ctx, firstErr)
			return nil, fmt.Errorf("%w: %v", ErrNoSnapshot, firstErr)
		}
		return nil, ErrNoSnapshot
	}

	priorState := (*aggregate.State)(nil)
	if prior != nil {
		priorState = prior.State
	}

	// Truncation invalidates a world's incremental state: drop what was
	// derived so far, reset the offsets and replay its sources in full.
	if len(truncated) > 0 {
		events, priorState = c.replayTruncated(ctx, truncated, events, priorState)
	}

	_, aspan := c.opts.Tracing.StartAggregate(ctx, len(events))
	state := c.opts.Aggregator.Aggregate(reg, events, priorState)
	aspan.End()

	version := uint64(1)
	if prior != nil {
		version = prior.Version + 1
	}

	snap := &Snapshot{
		State:       state,
		People:      reg,
		Version:     version,
		GeneratedAt: time.Now(),
		Stats:       diag.Stats(),
		SkipReasons: diag.Reasons(),
	}
	c.publish(snap)

	elapsed := time.Since(start)
	c.opts.Metrics.RefreshDuration.Observe(elapsed.Seconds())
	if elapsed > refreshWarnThreshold {
		c.logger.Warn().Dur("elapsed", elapsed).Msg("Refresh pass outlived its expected bound")
	}
	c.logger.Debug().Uint64("version", version).Int("events", len(events)).
		Dur("elapsed", elapsed).Msg("Snapshot published")

	return snap, nil
}

// refreshWarnThreshold flags refresh passes that run suspiciously long.
const refreshWarnThreshold = 30 * time.Second

func (c *Cache) readSource(ctx context.Context, src source.Source) (source.Result, error) {
	rctx, rspan := c.opts.Tracing.StartRead(ctx, string(src.Kind), src.World)
	defer rspan.End()

	res, err := c.opts.Reader.Read(src)
	c.opts.Metrics.RecordsRead.WithLabelValues(string(src.Kind)).Add(float64(len(res.Records)))
	if res.Truncated {
		c.opts.Metrics.Truncations.WithLabelValues(string(src.Kind)).Inc()
	}
	if err != nil {
		c.opts.Metrics.SourceErrors.WithLabelValues(string(src.Kind)).Inc()
		tracing.RecordError(rctx, err)
		c.logger.Warn().Err(err).Str("world", src.World).Msg("Source unavailable, keeping records read so far")
		return res, err
	}
	return res, nil
}

func (c *Cache) normalizeBatch(src source.Source, records []types.RawRecord) []types.Event {
	before := c.opts.Normalizer.Diagnostics().Reasons()
	events := c.opts.Normalizer.NormalizeAll(records)
	c.opts.Metrics.EventsNormalized.WithLabelValues(string(src.Kind)).Add(float64(len(events)))
	for reason, count := range c.opts.Normalizer.Diagnostics().Reasons() {
		if delta := count - before[reason]; delta > 0 {
			c.opts.Metrics.RecordsSkipped.WithLabelValues(reason).Add(float64(delta))
		}
	}
	return events
}

// replayTruncated discards events and derived state for truncated worlds
// and re-reads those worlds' sources from the beginning.
func (c *Cache) replayTruncated(ctx context.Context, truncated map[string]bool, events []types.Event, priorState *aggregate.State) ([]types.Event, *aggregate.State) {
	kept := events[:0]
	for _, event := range events {
		if !truncated[event.World] {
			kept = append(kept, event)
		}
	}
	events = kept

	if priorState != nil {
		priorState = priorState.Clone()
		for world := range truncated {
			delete(priorState.Worlds, world)
		}
	}

	worlds := make([]string, 0, len(truncated))
	for world := range truncated {
		worlds = append(worlds, world)
	}
	sort.Strings(worlds)

	for _, world := range worlds {
		c.logger.WithWorld(world).Warn().Msg("Replaying world sources after truncation")
		for _, src := range c.opts.Sources {
			if src.World != world {
				continue
			}
			c.opts.Checkpoints.ResetPrefix(src.Path)
			batch, _ := c.readSource(ctx, src)
			events = append(events, c.normalizeBatch(src, batch.Records)...)
		}
	}
	return events, priorState
}

func (c *Cache) publish(snap *Snapshot) {
	c.previous.Store(c.current.Load())
	c.current.Store(snap)

	c.opts.Metrics.SnapshotVersion.Set(float64(snap.Version))
	c.opts.Metrics.SnapshotTimestamp.Set(float64(snap.GeneratedAt.Unix()))
	for name, ws := range snap.State.Worlds {
		c.opts.Metrics.OnlinePlayers.WithLabelValues(name).Set(float64(len(ws.Open)))
		c.opts.Metrics.IntegrityWarnings.WithLabelValues(name).Set(float64(len(ws.Warnings)))
	}
}
