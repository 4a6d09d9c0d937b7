package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeCatalog(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "syscall_error.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
	return path
}

func TestLoadAndLookup(t *testing.T) {
	path := writeCatalog(t, `{"open": ["ENOENT", "EACCES"], "read": ["EBADF"]}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	errs, ok := c.Lookup("open")
	if !ok {
		t.Fatalf("Lookup(open) not found")
	}
	sort.Strings(errs)
	want := []string{"EACCES", "ENOENT"}
	if len(errs) != len(want) || errs[0] != want[0] || errs[1] != want[1] {
		t.Errorf("Lookup(open) = %v, want %v", errs, want)
	}

	if _, ok := c.Lookup("nonexistent_syscall"); ok {
		t.Errorf("Lookup(nonexistent_syscall) found, want not found")
	}

	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/catalog.json"); err == nil {
		t.Errorf("Load(missing file) = nil error, want error")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeCatalog(t, `not json`)
	if _, err := Load(path); err == nil {
		t.Errorf("Load(invalid json) = nil error, want error")
	}
}
