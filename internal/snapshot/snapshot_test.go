package snapshot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
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

type fixture struct {
	cache  *Cache
	dir    string
	logins string
}

// buildCache wires a cache over the given sources. A nil watcher means
// every refresh pass reads.
func buildCache(t *testing.T, dir string, srcs []source.Source, watcher *source.Watcher) *Cache {
	t.Helper()

	logger := logging.New(logging.Config{Level: "error", Output: io.Discard})

	ckpt, err := checkpoint.NewManager(filepath.Join(dir, "ckpt"), time.Minute)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	tracer, err := tracing.NewProvider(context.Background(), tracing.Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	peopleFile := filepath.Join(dir, "people.json")
	if err := os.WriteFile(peopleFile, []byte(`[{"id": "alice", "minecraft": "AliceMC"}]`), 0o644); err != nil {
		t.Fatal(err)
	}

	return NewCache(Options{
		Sources:     srcs,
		Reader:      source.NewReader(ckpt, logger),
		Normalizer:  normalize.New(nil),
		Resolver:    people.NewResolver(peopleFile, logger),
		Aggregator:  aggregate.New(logger),
		Watcher:     watcher,
		Checkpoints: ckpt,
		Metrics:     metrics.NewCollector(),
		Tracing:     tracer,
		Logger:      logger,
	})
}

// newFixture wires a cache over one console source in a temp directory.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	logins := filepath.Join(dir, "logins.log")
	if err := os.WriteFile(logins, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}

	cache := buildCache(t, dir, []source.Source{
		{Kind: types.SourceConsole, World: "wurstmineberg", Path: logins},
	}, nil)
	return &fixture{cache: cache, dir: dir, logins: logins}
}

func (f *fixture) appendLogins(t *testing.T, lines string) {
	t.Helper()
	file, err := os.OpenFile(f.logins, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()
	if _, err := file.WriteString(lines); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshPublishesSnapshot(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	snap, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, want 1", snap.Version)
	}

	ws := snap.State.World("wurstmineberg")
	if ws == nil {
		t.Fatal("no world state")
	}
	if _, ok := ws.Open["alice"]; !ok {
		t.Errorf("open sessions = %v, want alice", ws.Open)
	}
	if got := f.cache.Current(); got != snap {
		t.Error("Current() does not return the published snapshot")
	}
}

func TestRefreshIncremental(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	if _, err := f.cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	f.appendLogins(t, "2024-03-01 12:30:00 alice left AliceMC\n")
	snap, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if snap.Version != 2 {
		t.Errorf("version = %d, want 2", snap.Version)
	}

	ws := snap.State.World("wurstmineberg")
	if len(ws.Open) != 0 {
		t.Errorf("open sessions = %v, want none", ws.Open)
	}
	if got, want := ws.Playtime["alice"], 30*time.Minute; got != want {
		t.Errorf("playtime = %v, want %v", got, want)
	}
}

func TestRefreshIfStaleServesFreshWithoutPass(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	first, err := f.cache.RefreshIfStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}

	// New data arrives, but the snapshot is still fresh; no pass runs.
	f.appendLogins(t, "2024-03-01 12:30:00 alice left AliceMC\n")
	second, err := f.cache.RefreshIfStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}
	if second != first {
		t.Error("fresh snapshot was replaced within the staleness bound")
	}
	if len(second.State.World("wurstmineberg").Open) != 1 {
		t.Error("snapshot changed without a refresh pass")
	}
}

func TestRefreshIfStaleRefreshesWhenOld(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	first, err := f.cache.RefreshIfStale(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}

	f.appendLogins(t, "2024-03-01 12:30:00 alice left AliceMC\n")

	// A zero staleness bound treats every snapshot as stale.
	second, err := f.cache.RefreshIfStale(context.Background(), 0)
	if err != nil {
		t.Fatalf("RefreshIfStale() error = %v", err)
	}
	if second.Version != first.Version+1 {
		t.Errorf("version = %d, want %d", second.Version, first.Version+1)
	}
	if len(second.State.World("wurstmineberg").Open) != 0 {
		t.Error("refresh pass did not pick up the appended leave")
	}
}

func TestRefreshKeepsPriorOnSourceLoss(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	first, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if err := os.Remove(f.logins); err != nil {
		t.Fatal(err)
	}

	snap, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v, want stale data instead", err)
	}
	ws := snap.State.World("wurstmineberg")
	if _, ok := ws.Open["alice"]; !ok {
		t.Error("prior state lost when the source disappeared")
	}
	if snap.Version != first.Version+1 {
		t.Errorf("version = %d, want %d", snap.Version, first.Version+1)
	}
}

func TestRefreshFirstRunAllSourcesDown(t *testing.T) {
	f := newFixture(t)
	if err := os.Remove(f.logins); err != nil {
		t.Fatal(err)
	}

	_, err := f.cache.Refresh(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Refresh() error = %v, want ErrNoSnapshot", err)
	}
	if f.cache.Current() != nil {
		t.Error("Current() non-nil after a failed first refresh")
	}
}

func TestRefreshTruncationReplaysWorld(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t,
		"2024-03-01 12:00:00 alice joined AliceMC\n"+
			"2024-03-01 13:00:00 alice left AliceMC\n")

	if _, err := f.cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Rotate: the file is replaced by a shorter one covering a new day.
	if err := os.WriteFile(f.logins, []byte(
		"2024-03-02 09:00:00 alice joined AliceMC\n"+
			"2024-03-02 09:10:00 alice left AliceMC\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	snap, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Derived state is rebuilt from the new file alone; the hour from the
	// rotated-away history is gone.
	ws := snap.State.World("wurstmineberg")
	if got, want := ws.Playtime["alice"], 10*time.Minute; got != want {
		t.Errorf("playtime after truncation = %v, want %v", got, want)
	}
}

func TestRefreshKeepsRecordsFromPartialBatch(t *testing.T) {
	// One jlog file reads fine, then a dangling symlink fails the batch.
	// The offsets of the readable file are checkpointed during the read,
	// so its records must reach the aggregate or they are gone for good.
	dir := t.TempDir()
	jlogDir := filepath.Join(dir, "jlog")
	if err := os.Mkdir(jlogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	line := `{"time": "2024-03-01T12:00:00Z", "type": "join", "person": "alice"}` + "\n"
	if err := os.WriteFile(filepath.Join(jlogDir, "a.jlog"), []byte(line), 0o644); err != nil {
		t.Fatal(err)
	}
	broken := filepath.Join(jlogDir, "z.jlog")
	if err := os.Symlink(filepath.Join(dir, "nowhere"), broken); err != nil {
		t.Fatal(err)
	}

	cache := buildCache(t, dir, []source.Source{
		{Kind: types.SourceJlog, World: "wurstmineberg", Path: jlogDir},
	}, nil)

	snap, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	ws := snap.State.World("wurstmineberg")
	if ws == nil {
		t.Fatal("no world state; records from the readable file were dropped")
	}
	if _, ok := ws.Open["alice"]; !ok {
		t.Fatalf("open sessions = %v, want alice from the partial batch", ws.Open)
	}

	// The broken entry heals; the join must still be there, not re-read.
	if err := os.Remove(broken); err != nil {
		t.Fatal(err)
	}
	snap, err = cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if _, ok := snap.State.World("wurstmineberg").Open["alice"]; !ok {
		t.Error("alice's join lost after the source recovered")
	}
}

func TestRefreshPartialBatchFirstRunNotFatal(t *testing.T) {
	dir := t.TempDir()
	jlogDir := filepath.Join(dir, "jlog")
	if err := os.Mkdir(jlogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(dir, "nowhere"), filepath.Join(jlogDir, "z.jlog")); err != nil {
		t.Fatal(err)
	}

	cache := buildCache(t, dir, []source.Source{
		{Kind: types.SourceJlog, World: "wurstmineberg", Path: jlogDir},
	}, nil)

	// No records at all were read, so the first run still has nothing to
	// publish.
	if _, err := cache.Refresh(context.Background()); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("Refresh() error = %v, want ErrNoSnapshot", err)
	}
}

// waitDirty polls the watcher until it reports a change or the deadline
// passes; fsnotify delivery is asynchronous.
func waitDirty(t *testing.T, w *source.Watcher) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Dirty() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher never marked dirty")
}

func TestRefreshCleanRepublish(t *testing.T) {
	dir := t.TempDir()

	// The log lives in its own directory so the watcher never sees the
	// fixture's checkpoint and people files.
	logsDir := filepath.Join(dir, "logs")
	if err := os.Mkdir(logsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	logins := filepath.Join(logsDir, "logins.log")
	if err := os.WriteFile(logins, []byte("2024-03-01 12:00:00 alice joined AliceMC\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := logging.New(logging.Config{Level: "error", Output: io.Discard})
	watcher, err := source.NewWatcher([]string{logins}, logger)
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	defer watcher.Close()

	cache := buildCache(t, dir, []source.Source{
		{Kind: types.SourceConsole, World: "wurstmineberg", Path: logins},
	}, watcher)

	first, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// Nothing changed on disk: the pass republishes the same state
	// without re-reading.
	second, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if second.State != first.State {
		t.Error("clean republish rebuilt the state instead of sharing it")
	}
	if second.Version != first.Version+1 {
		t.Errorf("version = %d, want %d", second.Version, first.Version+1)
	}

	// An append marks the set dirty and the next pass picks it up.
	f, err := os.OpenFile(logins, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("2024-03-01 12:30:00 alice left AliceMC\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	waitDirty(t, watcher)

	third, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	ws := third.State.World("wurstmineberg")
	if len(ws.Open) != 0 {
		t.Errorf("open sessions = %v, want none after the appended leave", ws.Open)
	}
	if got, want := ws.Playtime["alice"], 30*time.Minute; got != want {
		t.Errorf("playtime = %v, want %v", got, want)
	}
}

func TestPreviousSnapshotRetained(t *testing.T) {
	f := newFixture(t)
	f.appendLogins(t, "2024-03-01 12:00:00 alice joined AliceMC\n")

	first, err := f.cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if f.cache.Previous() != nil {
		t.Error("Previous() non-nil after the first publish")
	}

	if _, err := f.cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got := f.cache.Previous(); got != first {
		t.Error("Previous() does not hold the prior snapshot")
	}
}
