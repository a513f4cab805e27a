// Package cache stores analysis results on disk keyed by a content hash
// of the analyzed files.
package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/zeebo/blake3"
)

// Cache is a directory of JSON entries. A nil *Cache misses every Load
// and discards every Store.
type Cache struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

type entry struct {
	Hash    string          `json:"hash"`
	Written time.Time       `json:"written"`
	Data    json.RawMessage `json:"data"`
}

// New opens the cache in dir, creating it. Entries older than ttl are
// dropped on read; a zero ttl keeps them forever.
func New(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{dir: dir, ttl: ttl, now: time.Now}, nil
}

// HashFile returns the hex BLAKE3 digest of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashFiles digests a file set: each path relative to root with its
// content hash, in sorted order, then salt. Adding, removing, renaming or
// editing a file changes the result, as does a different salt.
func HashFiles(root string, files []string, salt string) (string, error) {
	byRel := make(map[string]string, len(files))
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil {
			rel = f
		}
		byRel[filepath.ToSlash(rel)] = f
	}
	rels := make([]string, 0, len(byRel))
	for rel := range byRel {
		rels = append(rels, rel)
	}
	sort.Strings(rels)

	h := blake3.New()
	for _, rel := range rels {
		sum, err := HashFile(byRel[rel])
		if err != nil {
			return "", fmt.Errorf("hash %s: %w", rel, err)
		}
		fmt.Fprintf(h, "%s\x00%s\n", rel, sum)
	}
	fmt.Fprintf(h, "salt\x00%s\n", salt)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Load decodes the entry for key into v. It misses when the entry is
// absent, expired, unreadable or was stored under a different hash.
func (c *Cache) Load(key, hash string, v any) bool {
	if c == nil {
		return false
	}
	path := c.path(key)
	raw, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var e entry
	if json.Unmarshal(raw, &e) != nil || e.Hash != hash {
		return false
	}
	if c.ttl > 0 && c.now().Sub(e.Written) > c.ttl {
		os.Remove(path)
		return false
	}
	return json.Unmarshal(e.Data, v) == nil
}

// Store writes v under key. The file is replaced atomically so readers
// never see a partial entry.
func (c *Cache) Store(key, hash string, v any) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	raw, err := json.Marshal(entry{Hash: hash, Written: c.now(), Data: data})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path(key))
}

// path names the entry file by the digest of key so any key is a safe
// file name.
func (c *Cache) path(key string) string {
	sum := blake3.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}
