package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wurstmineberg/api/internal/checkpoint"
	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/pkg/types"
)

func testReader(t *testing.T) *Reader {
	t.Helper()
	ckpt, err := checkpoint.NewManager(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	logger := logging.New(logging.Config{Level: "error", Output: io.Discard})
	return NewReader(ckpt, logger)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
}

func texts(records []types.RawRecord) []string {
	out := make([]string, len(records))
	for i, rec := range records {
		out[i] = rec.Text
	}
	return out
}

func TestReadResumesFromOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logins.log")
	writeFile(t, path, "line one\nline two\n")

	r := testReader(t)
	src := Source{Kind: types.SourceConsole, World: "w", Path: path}

	res, err := r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := texts(res.Records); len(got) != 2 || got[0] != "line one" || got[1] != "line two" {
		t.Fatalf("first pass records = %v", got)
	}

	// Nothing new: the second pass is empty.
	res, err = r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("second pass records = %v, want none", texts(res.Records))
	}

	appendFile(t, path, "line three\n")
	res, err = r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := texts(res.Records); len(got) != 1 || got[0] != "line three" {
		t.Fatalf("third pass records = %v, want [line three]", got)
	}
	if res.Records[0].Seq != 2 {
		t.Errorf("seq = %d, want 2", res.Records[0].Seq)
	}
}

func TestReadPartialFinalLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logins.log")
	writeFile(t, path, "complete line\npartial")

	r := testReader(t)
	src := Source{Kind: types.SourceConsole, World: "w", Path: path}

	res, err := r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := texts(res.Records); len(got) != 1 || got[0] != "complete line" {
		t.Fatalf("records = %v, want only the complete line", got)
	}

	// The writer finishes the line; it is read exactly once.
	appendFile(t, path, " now complete\n")
	res, err = r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := texts(res.Records); len(got) != 1 || got[0] != "partial now complete" {
		t.Fatalf("records = %v, want [partial now complete]", got)
	}
}

func TestReadTruncationRestarts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logins.log")
	writeFile(t, path, "old line one\nold line two\n")

	r := testReader(t)
	src := Source{Kind: types.SourceConsole, World: "w", Path: path}

	if _, err := r.Read(src); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	// Replace with a shorter file, as log rotation would.
	writeFile(t, path, "fresh\n")

	res, err := r.Read(src)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
	if got := texts(res.Records); len(got) != 1 || got[0] != "fresh" {
		t.Errorf("records = %v, want [fresh]", got)
	}
	if res.Records[0].Seq != 0 {
		t.Errorf("seq = %d, want 0 after restart", res.Records[0].Seq)
	}
}

func TestReadMissingFile(t *testing.T) {
	r := testReader(t)
	src := Source{Kind: types.SourceConsole, World: "w", Path: filepath.Join(t.TempDir(), "absent.log")}

	_, err := r.Read(src)
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Read() error = %v, want ErrUnavailable", err)
	}
}

func TestReadSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logins.log")
	writeFile(t, path, "one\n\n\ntwo\n")

	r := testReader(t)
	res, err := r.Read(Source{Kind: types.SourceConsole, World: "w", Path: path})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := texts(res.Records); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("records = %v, want [one two]", got)
	}
	if res.Records[1].Seq != 1 {
		t.Errorf("seq = %d, want 1 (blank lines advance the offset only)", res.Records[1].Seq)
	}
}

func TestReadJlogDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "2024-02.jlog"), "feb\n")
	writeFile(t, filepath.Join(dir, "2024-03.jlog"), "mar\n")
	writeFile(t, filepath.Join(dir, ".hidden"), "ignored\n")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := testReader(t)
	res, err := r.Read(Source{Kind: types.SourceJlog, World: "w", Path: dir})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	// Rotated files replay in name order; dotfiles and directories are
	// skipped.
	if got := texts(res.Records); len(got) != 2 || got[0] != "feb" || got[1] != "mar" {
		t.Errorf("records = %v, want [feb mar]", got)
	}
}

func TestReadJlogMissingDirectory(t *testing.T) {
	r := testReader(t)
	_, err := r.Read(Source{Kind: types.SourceJlog, World: "w", Path: filepath.Join(t.TempDir(), "absent")})
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Read() error = %v, want ErrUnavailable", err)
	}
}
