package people

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wurstmineberg/api/internal/logging"
)

// Resolver serves atomically swapped Registry snapshots, reloading the
// people file wholesale when it changes on disk. The most recent
// successfully loaded snapshot is authoritative; a failed reload keeps
// the previous one.
type Resolver struct {
	path   string
	logger *logging.Logger

	current atomic.Pointer[Registry]

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

// NewResolver creates a resolver for the given people file path. The
// initial load happens on the first Snapshot call.
func NewResolver(path string, logger *logging.Logger) *Resolver {
	r := &Resolver{
		path:   path,
		logger: logger.WithComponent("people"),
	}
	r.current.Store(Empty())
	return r
}

// Snapshot returns the current registry, reloading first if the file
// changed. Callers hold one snapshot for a whole aggregation pass.
func (r *Resolver) Snapshot() *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()

	stat, err := os.Stat(r.path)
	if err != nil {
		// Absent people file: every actor is unknown, but the
		// pipeline still functions.
		if r.current.Load().Len() > 0 {
			r.logger.Warn().Err(err).Msg("People file unavailable, keeping previous registry")
		}
		return r.current.Load()
	}

	if stat.ModTime().Equal(r.modTime) && stat.Size() == r.size {
		return r.current.Load()
	}

	reg, err := Load(r.path)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to reload people file, keeping previous registry")
		return r.current.Load()
	}

	r.modTime = stat.ModTime()
	r.size = stat.Size()
	r.current.Store(reg)
	r.logger.Info().Int("people", reg.Len()).Msg("People file loaded")
	return reg
}
