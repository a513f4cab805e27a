package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type result struct {
	Grade string  `json:"grade"`
	Index float64 `json:"index"`
}

func newCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(filepath.Join(t.TempDir(), "nested", "cache"), ttl)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestNewCreatesDirectory(t *testing.T) {
	c := newCache(t, time.Hour)
	if info, err := os.Stat(c.dir); err != nil || !info.IsDir() {
		t.Errorf("New() should create %s", c.dir)
	}
}

func TestStoreAndLoad(t *testing.T) {
	c := newCache(t, time.Hour)
	if err := c.Store("grade", "h1", result{Grade: "B", Index: 7.2}); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	var got result
	if !c.Load("grade", "h1", &got) {
		t.Fatal("Load() should hit")
	}
	if got.Grade != "B" || got.Index != 7.2 {
		t.Errorf("Load() = %+v", got)
	}
	if c.Load("grade", "h2", &got) {
		t.Error("Load() should miss on a different hash")
	}
	if c.Load("other", "h1", &got) {
		t.Error("Load() should miss for unknown keys")
	}

	if err := c.Store("grade", "h2", result{Grade: "A"}); err != nil {
		t.Fatal(err)
	}
	if c.Load("grade", "h1", &got) {
		t.Error("a newer Store() should replace the entry")
	}

	tmps, _ := filepath.Glob(filepath.Join(c.dir, ".entry-*"))
	if len(tmps) != 0 {
		t.Errorf("temporary files left behind: %v", tmps)
	}
}

func TestLoadCorruptEntry(t *testing.T) {
	c := newCache(t, time.Hour)
	if err := os.WriteFile(c.path("grade"), []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	var got result
	if c.Load("grade", "h", &got) {
		t.Error("Load() should miss on a corrupt entry")
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache
	if err := c.Store("k", "h", 1); err != nil {
		t.Errorf("Store() on nil cache: %v", err)
	}
	var v int
	if c.Load("k", "h", &v) {
		t.Error("Load() on nil cache should miss")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := newCache(t, time.Hour)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Store("k", "h", 1); err != nil {
		t.Fatal(err)
	}
	var v int
	now = now.Add(59 * time.Minute)
	if !c.Load("k", "h", &v) {
		t.Error("Load() should hit before the TTL expires")
	}
	now = now.Add(2 * time.Minute)
	if c.Load("k", "h", &v) {
		t.Error("Load() should miss after the TTL expires")
	}
	if _, err := os.Stat(c.path("k")); !os.IsNotExist(err) {
		t.Error("expired entries should be removed")
	}
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := newCache(t, 0)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	if err := c.Store("k", "h", 1); err != nil {
		t.Fatal(err)
	}
	now = now.Add(24 * 365 * time.Hour)
	var v int
	if !c.Load("k", "h", &v) {
		t.Error("zero TTL should keep entries")
	}
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "b.py")
	os.WriteFile(a, []byte("x = 1\n"), 0o644)
	os.WriteFile(b, []byte("x = 1\n"), 0o644)

	ha, err := HashFile(a)
	if err != nil {
		t.Fatalf("HashFile() error: %v", err)
	}
	hb, _ := HashFile(b)
	if ha != hb {
		t.Error("identical content should hash identically")
	}
	if len(ha) != 64 {
		t.Errorf("hash length = %d, want 64", len(ha))
	}
	if _, err := HashFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("HashFile() should fail for a missing file")
	}
}

func TestHashFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.py")
	b := filepath.Join(dir, "pkg", "b.py")
	os.MkdirAll(filepath.Dir(b), 0o755)
	os.WriteFile(a, []byte("x = 1\n"), 0o644)
	os.WriteFile(b, []byte("y = 2\n"), 0o644)

	h1, err := HashFiles(dir, []string{a, b}, "cfg")
	if err != nil {
		t.Fatalf("HashFiles() error: %v", err)
	}
	h2, _ := HashFiles(dir, []string{b, a}, "cfg")
	if h1 != h2 {
		t.Error("HashFiles() should not depend on input order")
	}
	if h3, _ := HashFiles(dir, []string{a, b}, "other"); h3 == h1 {
		t.Error("salt should change the hash")
	}
	if h4, _ := HashFiles(dir, []string{a}, "cfg"); h4 == h1 {
		t.Error("removing a file should change the hash")
	}

	os.WriteFile(b, []byte("y = 3\n"), 0o644)
	if h5, _ := HashFiles(dir, []string{a, b}, "cfg"); h5 == h1 {
		t.Error("editing a file should change the hash")
	}
	if _, err := HashFiles(dir, []string{filepath.Join(dir, "gone.py")}, ""); err == nil {
		t.Error("HashFiles() should fail when a file is missing")
	}
}
