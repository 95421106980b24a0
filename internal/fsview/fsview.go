// Package fsview is the process-lifetime cache of stat results and content
// hashes that the staleness analyzer reads from instead of hitting the OS
// on every rebuild decision.
//
// Entries are created lazily on first observation and replaced atomically
// on invalidation; stat results live in a plain sync.Map (cheap, and
// naturally bounded by the project's file count) while content hashes,
// the expensive path, live in a bounded LRU.
package fsview

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	digest "github.com/opencontainers/go-digest"
)

// Stat is a cached observation of one path.
type Stat struct {
	Exists  bool
	MtimeNS int64
	Size    int64
}

// defaultHashCacheSize bounds the number of content hashes held in memory
// at once; hashing is only ever needed for files actually compared during
// a build, so this rarely fills in practice.
const defaultHashCacheSize = 4096

// View is the shared, concurrency-safe filesystem cache. The zero value is
// not usable; construct with New.
type View struct {
	stats sync.Map // path -> *Stat

	hashMu sync.Mutex
	hashes *lru.Cache[string, digest.Digest]
}

// New returns an empty View.
func New() *View {
	cache, err := lru.New[string, digest.Digest](defaultHashCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// defaultHashCacheSize never is.
		panic(fmt.Sprintf("fsview: unexpected lru.New error: %v", err))
	}
	return &View{hashes: cache}
}

// Stat returns the cached stat entry for path, populating it from the OS
// on first observation.
func (v *View) Stat(path string) (Stat, error) {
	if cached, ok := v.stats.Load(path); ok {
		return *cached.(*Stat), nil
	}

	st, err := statOS(path)
	if err != nil {
		return Stat{}, err
	}
	v.stats.Store(path, &st)
	return st, nil
}

func statOS(path string) (Stat, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Stat{Exists: false}, nil
		}
		return Stat{}, err
	}
	return Stat{
		Exists:  true,
		MtimeNS: info.ModTime().UnixNano(),
		Size:    info.Size(),
	}, nil
}

// Hash returns a stable content digest of path, computing and caching it
// on first call. Used by CachedFile capabilities (through the Engine's
// Hasher) to fold input content into a node's version tag.
func (v *View) Hash(_ context.Context, path string) (digest.Digest, error) {
	v.hashMu.Lock()
	if d, ok := v.hashes.Get(path); ok {
		v.hashMu.Unlock()
		return d, nil
	}
	v.hashMu.Unlock()

	d, err := hashFile(path)
	if err != nil {
		return "", err
	}

	v.hashMu.Lock()
	v.hashes.Add(path, d)
	v.hashMu.Unlock()
	return d, nil
}

func hashFile(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	digester := digest.SHA256.Digester()
	if _, err := io.Copy(digester.Hash(), f); err != nil {
		return "", err
	}
	return digester.Digest(), nil
}

// Invalidate drops the cached stat and hash entries for path. Called after
// a successful rebuild makes a new version of path visible on disk, so the
// next reader recomputes rather than observing stale metadata.
func (v *View) Invalidate(path string) {
	v.stats.Delete(path)
	v.hashMu.Lock()
	v.hashes.Remove(path)
	v.hashMu.Unlock()
}

// InvalidateAll drops every cached entry. Host-initiated, e.g. in response
// to an external signal or a bulk filesystem change the watcher could not
// enumerate precisely.
func (v *View) InvalidateAll() {
	v.stats.Range(func(key, _ any) bool {
		v.stats.Delete(key)
		return true
	})
	v.hashMu.Lock()
	v.hashes.Purge()
	v.hashMu.Unlock()
}
