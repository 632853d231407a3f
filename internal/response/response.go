// Package response projects published snapshots into the documented JSON
// endpoint shapes. Projections are pure: no side effects, no access to
// raw sources.
package response

import (
	"context"
	"errors"
	"time"

	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/internal/metrics"
	"github.com/wurstmineberg/api/internal/snapshot"
	"github.com/wurstmineberg/api/internal/world"
)

var (
	// ErrNotFound means the endpoint or the requested entity does not
	// exist. The transport layer maps it to its own signaling.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable means no snapshot could be produced at all (first
	// run with every source down).
	ErrUnavailable = errors.New("service unavailable")
)

// Params carries endpoint parameters extracted by the transport layer
type Params map[string]string

// Builder answers endpoint data requests from the latest snapshot.
type Builder struct {
	cache     *snapshot.Cache
	worlds    *world.Directory
	known     map[string]bool // configured world names
	mainWorld string
	staleness time.Duration
	metrics   *metrics.Collector
	logger    *logging.Logger

	now func() time.Time
}

// Config holds builder configuration
type Config struct {
	Cache     *snapshot.Cache
	Worlds    *world.Directory
	Known     []string
	MainWorld string
	Staleness time.Duration
	Metrics   *metrics.Collector
	Logger    *logging.Logger
}

// NewBuilder creates a response builder
func NewBuilder(cfg Config) *Builder {
	known := make(map[string]bool, len(cfg.Known))
	for _, name := range cfg.Known {
		known[name] = true
	}
	return &Builder{
		cache:     cfg.Cache,
		worlds:    cfg.Worlds,
		known:     known,
		mainWorld: cfg.MainWorld,
		staleness: cfg.Staleness,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger.WithComponent("response"),
		now:       time.Now,
	}
}

// GetEndpointData returns the JSON-shaped value for one endpoint. It
// refreshes the snapshot first when it is past the staleness threshold;
// a failed refresh falls back to the previously published snapshot.
func (b *Builder) GetEndpointData(ctx context.Context, endpoint string, params Params) (any, error) {
	data, err := b.build(ctx, endpoint, params)
	b.count(endpoint, err)
	return data, err
}

func (b *Builder) build(ctx context.Context, endpoint string, params Params) (any, error) {
	snap, err := b.cache.RefreshIfStale(ctx, b.staleness)
	if err != nil {
		if snap = b.cache.Current(); snap == nil {
			b.logger.Error().Err(err).Str("endpoint", endpoint).Msg("No snapshot available")
			return nil, ErrUnavailable
		}
		b.logger.Warn().Err(err).Msg("Refresh failed, serving previous snapshot")
	}

	switch endpoint {
	case "people":
		return buildPeople(snap), nil
	case "player_info":
		return buildPlayerInfo(snap, params["player"])
	case "server_players":
		return buildServerPlayers(snap), nil
	case "server_worlds":
		return buildServerWorlds(snap, b.worlds), nil
	}

	// Remaining endpoints are world-scoped.
	name := params["world"]
	if name == "" {
		name = b.mainWorld
	}
	if !b.known[name] {
		return nil, ErrNotFound
	}
	ws := snap.State.World(name)

	switch endpoint {
	case "world_status":
		return buildStatus(ws), nil
	case "world_sessions_lastseen":
		return buildLastSeen(ws), nil
	case "world_sessions_overview":
		return buildSessionsOverview(ws, b.now()), nil
	case "world_deaths_latest":
		return buildDeathsLatest(ws), nil
	case "world_deaths_overview":
		return buildDeathsOverview(ws), nil
	case "world_playtime":
		return buildPlaytime(ws, b.now()), nil
	case "world_achievements_scoreboard":
		return buildAchievementScores(ws), nil
	case "world_achievements_winners":
		return buildAchievementWinners(ws), nil
	default:
		return nil, ErrNotFound
	}
}

func (b *Builder) count(endpoint string, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	b.metrics.EndpointRequests.WithLabelValues(endpoint, outcome).Inc()
}
