package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wurstmineberg/api/internal/checkpoint"
	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/pkg/types"
)

// ErrUnavailable marks a source file as missing or unreadable. It is
// recoverable: the caller keeps serving the previous snapshot and retries
// on the next refresh.
var ErrUnavailable = errors.New("source unavailable")

// Source names one input of the pipeline. Path is a single file, except
// for jlog sources where it is a directory of rotated jlog files.
type Source struct {
	Kind  types.SourceKind
	World string
	Path  string
}

// Result is one batch of raw records read past the saved offsets.
type Result struct {
	Records []types.RawRecord

	// Truncated reports that at least one file was shorter than its
	// saved offset and was restarted from the beginning. The caller
	// must rebuild derived state for this source's world from scratch.
	Truncated bool
}

// Reader streams raw records from source files, restartable from
// checkpointed offsets.
type Reader struct {
	ckpt   *checkpoint.Manager
	logger *logging.Logger
}

// NewReader creates a reader backed by the given checkpoint manager
func NewReader(ckpt *checkpoint.Manager, logger *logging.Logger) *Reader {
	return &Reader{
		ckpt:   ckpt,
		logger: logger.WithComponent("source"),
	}
}

// Read returns all complete records appended to the source since the last
// call. A missing or unreadable file yields an empty result and
// ErrUnavailable; it never aborts the pipeline.
func (r *Reader) Read(src Source) (Result, error) {
	paths, err := r.expand(src)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, path := range paths {
		records, truncated, err := r.readFile(src, path)
		if err != nil {
			return res, err
		}
		res.Records = append(res.Records, records...)
		res.Truncated = res.Truncated || truncated
	}
	return res, nil
}

// expand resolves a source to the concrete files to read, in name order
// so that rotated jlog files replay deterministically.
func (r *Reader) expand(src Source) ([]string, error) {
	if src.Kind != types.SourceJlog {
		return []string{src.Path}, nil
	}

	entries, err := os.ReadDir(src.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", src.Path, ErrUnavailable)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		paths = append(paths, filepath.Join(src.Path, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func (r *Reader) readFile(src Source, path string) ([]types.RawRecord, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, ErrUnavailable)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", path, ErrUnavailable)
	}

	pos, _ := r.ckpt.Position(path)
	pos.Path = path

	truncated := false
	if pos.Offset > stat.Size() {
		// The file shrank under us: rotation or truncation. Restart
		// from the beginning rather than failing.
		r.logger.Warn().Str("path", path).Int64("offset", pos.Offset).
			Int64("size", stat.Size()).Msg("Source truncated, restarting from beginning")
		pos = types.FilePosition{Path: path}
		truncated = true
	}

	if _, err := file.Seek(pos.Offset, io.SeekStart); err != nil {
		return nil, truncated, fmt.Errorf("%s: %w", path, ErrUnavailable)
	}

	reader := bufio.NewReader(file)
	var records []types.RawRecord

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A partial final line is left in place; the offset is
			// not advanced past it and it is re-read next pass once
			// the writer finishes it.
			if err == io.EOF {
				break
			}
			r.ckpt.Update(pos)
			return records, truncated, fmt.Errorf("%s: %w", path, ErrUnavailable)
		}

		text := strings.TrimRight(line, "\r\n")
		if text != "" {
			records = append(records, types.RawRecord{
				Source: src.Kind,
				World:  src.World,
				Path:   path,
				Offset: pos.Offset,
				Seq:    pos.Seq,
				Text:   text,
			})
			pos.Seq++
		}
		pos.Offset += int64(len(line))
	}

	r.ckpt.Update(pos)
	return records, truncated, nil
}
