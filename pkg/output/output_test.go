package output

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Sternrassler/reposcrape/pkg/client"
)

func TestPath(t *testing.T) {
	tests := []struct {
		unit string
		want string
	}{
		{"repositories_1", filepath.Join("out", "resultsets_1")},
		{"repositories_12345", filepath.Join("out", "resultsets_12345")},
		{"other_7", filepath.Join("out", "other_7")},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			if got := Path("out", tt.unit); got != tt.want {
				t.Errorf("Path() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDone(t *testing.T) {
	dir := t.TempDir()

	missing := filepath.Join(dir, "resultsets_1")
	empty := filepath.Join(dir, "resultsets_2")
	full := filepath.Join(dir, "resultsets_3")
	sub := filepath.Join(dir, "resultsets_4")

	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("1\ta/b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want bool
	}{
		{"missing", missing, false},
		{"empty", empty, false},
		{"non-empty", full, true},
		{"directory", sub, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Done(tt.path)
			if err != nil {
				t.Fatalf("Done() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Done() = %v, want %v", got, tt.want)
			}
		})
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	return string(b)
}

func TestWriter_CommitDedupFirstWins(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "resultsets_1")

	w, err := Stage(dir)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	n, d, err := w.Append([]client.Record{{ID: "42", FullName: "first/batch"}, {ID: "7", FullName: "a/b"}})
	if err != nil || n != 2 || d != 0 {
		t.Fatalf("Append() = %d, %d, %v", n, d, err)
	}
	n, d, err = w.Append([]client.Record{{ID: "42", FullName: "second/batch"}, {ID: "8", FullName: "c/d"}})
	if err != nil || n != 1 || d != 1 {
		t.Fatalf("Append() = %d, %d, %v", n, d, err)
	}

	if _, err := os.Stat(final); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("final path visible before commit: %v", err)
	}

	if err := w.Commit(final); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	want := "42\tfirst/batch\n7\ta/b\n8\tc/d\n"
	if got := readFile(t, final); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if w.Written() != 3 || w.Dropped() != 1 {
		t.Errorf("Written/Dropped = %d/%d, want 3/1", w.Written(), w.Dropped())
	}
	if _, err := os.Stat(w.TempPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging file still present after commit")
	}
}

func TestWriter_EmptyCommit(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "resultsets_1")

	w, err := Stage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(final); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	fi, err := os.Stat(final)
	if err != nil {
		t.Fatalf("expected committed empty file: %v", err)
	}
	if fi.Size() != 0 {
		t.Errorf("size = %d, want 0", fi.Size())
	}

	// An empty artifact does not satisfy the gate; the unit is redone next run.
	done, _ := Done(final)
	if done {
		t.Error("empty output should not count as done")
	}
}

func TestWriter_AbortLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "resultsets_1")

	w, err := Stage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Append([]client.Record{{ID: "1", FullName: "a/b"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}

	if _, err := os.Stat(final); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("final path exists after abort")
	}
	if _, err := os.Stat(w.TempPath()); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("staging file exists after abort")
	}
	if _, _, err := w.Append(nil); !errors.Is(err, ErrFinished) {
		t.Errorf("Append after Abort error = %v, want ErrFinished", err)
	}
	if err := w.Commit(final); !errors.Is(err, ErrFinished) {
		t.Errorf("Commit after Abort error = %v, want ErrFinished", err)
	}
}

func TestWriter_CrashBeforeCommit(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "resultsets_1")

	w, err := Stage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Append([]client.Record{{ID: "1", FullName: "a/b"}}); err != nil {
		t.Fatal(err)
	}
	// Simulate the process dying: nothing else happens to the writer.

	done, err := Done(final)
	if err != nil {
		t.Fatal(err)
	}
	if done {
		t.Error("unit must not look processed after a crash before commit")
	}
	_ = w.Abort()
}

func TestWriter_AbortAfterCommitIsNoop(t *testing.T) {
	dir := t.TempDir()
	final := filepath.Join(dir, "resultsets_1")

	w, err := Stage(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := w.Append([]client.Record{{ID: "1", FullName: "a/b"}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Commit(final); err != nil {
		t.Fatal(err)
	}
	if err := w.Abort(); err != nil {
		t.Errorf("Abort() after Commit error = %v", err)
	}
	if got := readFile(t, final); got != "1\ta/b\n" {
		t.Errorf("output changed after abort: %q", got)
	}
}
