// Package world exposes read-only metadata about world directories. The
// save data itself is never parsed.
package world

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/wurstmineberg/api/internal/logging"
)

// Info is the metadata for one world directory
type Info struct {
	Name     string
	Path     string
	Exists   bool
	LastSave time.Time // zero when unknown
}

// Directory provides metadata lookups under a worlds root
type Directory struct {
	root   string
	logger *logging.Logger
}

// NewDirectory creates a directory rooted at root
func NewDirectory(root string, logger *logging.Logger) *Directory {
	return &Directory{
		root:   root,
		logger: logger.WithComponent("world"),
	}
}

// Info returns metadata for the named world. The save timestamp is the
// level.dat modification time, falling back to the directory's own.
func (d *Directory) Info(name string) Info {
	info := Info{
		Name: name,
		Path: filepath.Join(d.root, name),
	}

	stat, err := os.Stat(info.Path)
	if err != nil || !stat.IsDir() {
		return info
	}
	info.Exists = true
	info.LastSave = stat.ModTime()

	if level, err := os.Stat(filepath.Join(info.Path, "level.dat")); err == nil {
		info.LastSave = level.ModTime()
	}
	return info
}

// List returns metadata for every world directory under the root, in
// name order. A missing root yields an empty list.
func (d *Directory) List() []Info {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		d.logger.Warn().Err(err).Str("root", d.root).Msg("Worlds directory unavailable")
		return nil
	}

	var infos []Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		infos = append(infos, d.Info(entry.Name()))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}
