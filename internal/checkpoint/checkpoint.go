package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/wurstmineberg/api/pkg/types"
)

// Manager persists consumed source positions so a restarted process does
// not re-read entire log histories.
type Manager struct {
	mu        sync.RWMutex
	dir       string
	positions map[string]types.FilePosition
	interval  time.Duration
	stopCh    chan struct{}
	saveCh    chan struct{}
	stopOnce  sync.Once
}

// NewManager creates a checkpoint manager rooted at dir
func NewManager(dir string, interval time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &Manager{
		dir:       dir,
		positions: make(map[string]types.FilePosition),
		interval:  interval,
		stopCh:    make(chan struct{}),
		saveCh:    make(chan struct{}, 1),
	}, nil
}

// Start starts the periodic checkpoint saving
func (m *Manager) Start() {
	go m.saveLoop()
}

// Stop stops the manager and performs a final save
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if err := m.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to save checkpoint: %v\n", err)
	}
}

// Update records the consumed position for a source file
func (m *Manager) Update(pos types.FilePosition) {
	m.mu.Lock()
	m.positions[pos.Path] = pos
	m.mu.Unlock()

	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// Position returns the saved position for a source file
func (m *Manager) Position(path string) (types.FilePosition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pos, ok := m.positions[path]
	return pos, ok
}

// ResetPrefix discards saved positions for every path under prefix,
// forcing the next read to start those files from the beginning. Used
// when truncation requires a world's sources to replay in full.
func (m *Manager) ResetPrefix(prefix string) {
	m.mu.Lock()
	for path := range m.positions {
		if strings.HasPrefix(path, prefix) {
			delete(m.positions, path)
		}
	}
	m.mu.Unlock()
}

func (m *Manager) file() string {
	return filepath.Join(m.dir, "positions.json")
}

// Load loads saved positions from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.file())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var positions map[string]types.FilePosition
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}

	m.positions = positions
	return nil
}

// Save writes all positions to disk atomically
func (m *Manager) Save() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.positions, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	// Write to a temporary file first, then rename for atomicity
	tmpFile := m.file() + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmpFile, m.file()); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}

	return nil
}

func (m *Manager) saveLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to save checkpoint: %v\n", err)
			}
		case <-m.saveCh:
			if err := m.Save(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to save checkpoint: %v\n", err)
			}
		case <-m.stopCh:
			return
		}
	}
}
