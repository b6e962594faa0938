package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	t.Run("creates file and parent directories", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "nested", "doc.json")

		if err := WriteFileAtomic(path, []byte(`{"a":1}`)); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read file: %v", err)
		}
		if string(got) != `{"a":1}` {
			t.Errorf("unexpected content %q", got)
		}
	})

	t.Run("replaces existing content", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "doc.json")
		if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := WriteFileAtomic(path, []byte("new")); err != nil {
			t.Fatalf("WriteFileAtomic() error = %v", err)
		}
		got, _ := os.ReadFile(path)
		if string(got) != "new" {
			t.Errorf("expected new content, got %q", got)
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, "doc.json")
		for range 3 {
			if err := WriteFileAtomic(path, []byte("x")); err != nil {
				t.Fatal(err)
			}
		}
		entries, _ := os.ReadDir(dir)
		if len(entries) != 1 {
			t.Errorf("expected only the document, found %d entries", len(entries))
		}
	})
}

// TestWriteFileAtomicCrashBeforeRename simulates a crash between writing the
// temp file and renaming it. The original document must survive intact.
// It swaps a package variable, so it does not run in parallel.
func TestWriteFileAtomicCrashBeforeRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.json")
	original := strings.Repeat("original content ", 100)
	if err := os.WriteFile(path, []byte(original), 0o600); err != nil {
		t.Fatal(err)
	}

	errCrash := errors.New("simulated crash")
	renameFile = func(_, _ string) error { return errCrash }
	t.Cleanup(func() { renameFile = os.Rename })

	err := WriteFileAtomic(path, []byte("partial"))
	if !errors.Is(err, errCrash) {
		t.Fatalf("expected simulated crash error, got %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read original: %v", err)
	}
	if string(got) != original {
		t.Error("original document was modified by a failed write")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected temp file cleanup, found %d entries", len(entries))
	}
}

func TestWriteFileAtomicSyncsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dogs_data_0_9.json")

	var synced []string
	syncDir = func(d string) error {
		synced = append(synced, d)
		return nil
	}
	t.Cleanup(func() { syncDir = syncDirectory })

	if err := WriteFileAtomic(path, []byte("[]")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(synced) != 1 || synced[0] != dir {
		t.Errorf("expected one sync of %s after the rename, got %v", dir, synced)
	}
	if err := syncDirectory(dir); err != nil {
		t.Errorf("expected the real directory sync to succeed: %v", err)
	}
}

func TestReadJSON(t *testing.T) {
	t.Parallel()

	t.Run("missing file returns ErrNotFound", func(t *testing.T) {
		t.Parallel()
		var v map[string]any
		err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "doc.json")
		in := map[string]int{"a": 1, "b": 2}
		if err := WriteJSON(path, in); err != nil {
			t.Fatal(err)
		}
		var out map[string]int
		if err := ReadJSON(path, &out); err != nil {
			t.Fatal(err)
		}
		if out["a"] != 1 || out["b"] != 2 {
			t.Errorf("unexpected decoded value %v", out)
		}
	})

	t.Run("malformed json is an error", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "doc.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
			t.Fatal(err)
		}
		var out map[string]int
		if err := ReadJSON(path, &out); err == nil {
			t.Error("expected decode error")
		}
	})
}
