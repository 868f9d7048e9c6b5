package output

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/reposcrape/pkg/client"
)

// TempPattern is the os.CreateTemp pattern used for staging files.
const TempPattern = ".reposcrape-*.tsv"

// ErrFinished is returned when a Writer is used after Commit or Abort.
var ErrFinished = errors.New("writer already finished")

// Writer stages the records of one unit and commits them with a single
// rename. A Writer is owned by one task and is not safe for concurrent use.
type Writer struct {
	tmp  *os.File
	buf  *bufio.Writer
	seen map[string]struct{}
	done bool

	written int
	dropped int
}

// Stage creates a fresh staging file in dir. dir should be the directory of
// the final output path so the rename in Commit stays on one filesystem.
func Stage(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, TempPattern)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	return &Writer{
		tmp:  tmp,
		buf:  bufio.NewWriterSize(tmp, 64*1024),
		seen: make(map[string]struct{}),
	}, nil
}

// TempPath returns the staging file path.
func (w *Writer) TempPath() string {
	return w.tmp.Name()
}

// Append writes records whose ID has not been written for this unit yet.
// Later duplicates are dropped; the first occurrence wins.
func (w *Writer) Append(records []client.Record) (written, dropped int, err error) {
	if w.done {
		return 0, 0, ErrFinished
	}
	for _, r := range records {
		if _, ok := w.seen[r.ID]; ok {
			dropped++
			continue
		}
		if _, err := fmt.Fprintf(w.buf, "%s\t%s\n", r.ID, r.FullName); err != nil {
			return written, dropped, fmt.Errorf("write staging file: %w", err)
		}
		w.seen[r.ID] = struct{}{}
		written++
	}
	w.written += written
	w.dropped += dropped
	return written, dropped, nil
}

// Written returns the number of records staged so far.
func (w *Writer) Written() int { return w.written }

// Dropped returns the number of duplicate records dropped so far.
func (w *Writer) Dropped() int { return w.dropped }

// Commit flushes and syncs the staging file and renames it to finalPath.
// On failure the staging file is removed and finalPath is untouched.
func (w *Writer) Commit(finalPath string) error {
	if w.done {
		return ErrFinished
	}
	w.done = true

	tmpPath := w.tmp.Name()
	fail := func(err error) error {
		_ = w.tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := w.buf.Flush(); err != nil {
		return fail(fmt.Errorf("flush staging file: %w", err))
	}
	if err := w.tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync staging file: %w", err))
	}
	if err := w.tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close staging file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod staging file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit output: %w", err)
	}
	syncDir(filepath.Dir(finalPath))
	return nil
}

// Abort discards the staging file. It is a no-op after Commit.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.tmp.Close()
	if err := os.Remove(w.tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove staging file: %w", err)
	}
	return nil
}

// syncDir makes the rename durable where the platform supports it.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
