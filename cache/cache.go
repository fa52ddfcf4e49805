package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum-optimism/infra/op-blackbox/types"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Compiler turns a build request into an artifact inside outDir.
type Compiler interface {
	Compile(ctx context.Context, req types.BuildRequest, outDir string) (*types.Artifact, error)
}

// Config configures an ArtifactCache
type Config struct {
	Root              string // scratch directory holding compiled artifacts
	ToolchainIdentity string // folded into every key
	Compiler          Compiler
	MaxCompilations   int64 // concurrent compiler runs; <= 0 means unbounded
	Log               log.Logger
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits     uint64 // answered from a stored entry
	Misses   uint64 // not stored at lookup time
	Joined   uint64 // waited on another caller's compilation
	Compiles uint64 // compiler invocations started
	Entries  int
}

type entry struct {
	artifact *types.Artifact
	err      error
}

// errInvalidated ends a flight whose generation was invalidated while it ran.
var errInvalidated = errors.New("cache invalidated during compilation")

// abandonedFlightError marks a flight that produced no outcome for the key,
// either because the context of the caller that started it ended or because
// the cache was invalidated underneath it. Waiters that are still live retry.
type abandonedFlightError struct {
	err error
}

func (e *abandonedFlightError) Error() string {
	return fmt.Sprintf("compilation abandoned: %v", e.err)
}

func (e *abandonedFlightError) Unwrap() error {
	return e.err
}

// ArtifactCache memoizes compilations by content hash. Concurrent requests
// for the same key share a single compilation.
type ArtifactCache struct {
	root     string
	identity string
	compiler Compiler
	log      log.Logger
	sem      *semaphore.Weighted // nil when unbounded

	flights singleflight.Group

	mu         sync.RWMutex
	entries    map[string]*entry
	generation uint64

	hits     atomic.Uint64
	misses   atomic.Uint64
	joined   atomic.Uint64
	compiles atomic.Uint64
}

// New creates an ArtifactCache
func New(cfg Config) (*ArtifactCache, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("cache root cannot be empty")
	}
	if cfg.Compiler == nil {
		return nil, fmt.Errorf("compiler cannot be nil")
	}
	if cfg.Log == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache root: %w", err)
	}
	c := &ArtifactCache{
		root:     root,
		identity: cfg.ToolchainIdentity,
		compiler: cfg.Compiler,
		log:      cfg.Log.New("component", "artifact-cache"),
		entries:  make(map[string]*entry),
	}
	if cfg.MaxCompilations > 0 {
		c.sem = semaphore.NewWeighted(cfg.MaxCompilations)
	}
	return c, nil
}

// Root returns the scratch directory of the cache.
func (c *ArtifactCache) Root() string {
	return c.root
}

// GetOrCompile returns the artifact for req, compiling it at most once per
// key. Compile errors and configuration errors are memoized like artifacts;
// infrastructure failures are not, so a later call retries.
//
// A caller whose context ends stops waiting and gets the context error. The
// compilation it was waiting on keeps running for the other callers unless
// it was the one that started it.
func (c *ArtifactCache) GetOrCompile(ctx context.Context, req types.BuildRequest) (*types.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Config == nil {
		return nil, &types.ConfigurationError{Reason: "build request has no pipeline config"}
	}
	key := Key(c.identity, req)

	if e, ok := c.lookup(key); ok {
		c.hits.Add(1)
		metrics.RecordCacheLookup("hit")
		return e.artifact, e.err
	}
	c.misses.Add(1)
	metrics.RecordCacheLookup("miss")

	for {
		// Flights are per generation so a caller arriving after InvalidateAll
		// never joins a compilation whose directory was removed.
		gen := c.currentGeneration()
		flight := strconv.FormatUint(gen, 10) + "/" + key
		ch := c.flights.DoChan(flight, func() (interface{}, error) {
			return c.fill(ctx, key, gen, req)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Shared {
				c.joined.Add(1)
				metrics.RecordCacheLookup("joined")
			}
			if res.Err != nil {
				var abandoned *abandonedFlightError
				if errors.As(res.Err, &abandoned) && ctx.Err() == nil {
					c.log.Debug("Retrying abandoned compilation", "key", key, "reason", abandoned.err)
					continue
				}
				return nil, res.Err
			}
			e := res.Val.(*entry)
			return e.artifact, e.err
		}
	}
}

func (c *ArtifactCache) fill(ctx context.Context, key string, gen uint64, req types.BuildRequest) (*entry, error) {
	// A flight for this key may have completed between lookup and DoChan.
	if e, ok := c.lookup(key); ok {
		return e, nil
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, &abandonedFlightError{err: err}
		}
		defer c.sem.Release(1)
	}
	if c.currentGeneration() != gen {
		return nil, &abandonedFlightError{err: errInvalidated}
	}

	dir := c.dirFor(gen, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewInfrastructureError("create artifact directory", err)
	}

	c.compiles.Add(1)
	c.log.Debug("Compiling", "test", req.TestID, "key", key, "modules", len(req.Units), "dir", dir)
	start := time.Now()
	art, err := c.compiler.Compile(ctx, req, dir)
	elapsed := time.Since(start)

	if c.currentGeneration() != gen {
		c.removeDir(dir)
		return nil, &abandonedFlightError{err: errInvalidated}
	}
	if err != nil {
		if ctx.Err() != nil {
			c.removeDir(dir)
			return nil, &abandonedFlightError{err: ctx.Err()}
		}
		if !memoizable(err) {
			c.removeDir(dir)
			metrics.RecordCompilation(req.Config.Name, "infrastructure_error", elapsed)
			metrics.RecordErrorDetails("compile", err)
			if !types.IsInfrastructureError(err) {
				err = types.NewInfrastructureError("compile", err)
			}
			return nil, err
		}
		metrics.RecordCompilation(req.Config.Name, "compile_error", elapsed)
		c.log.Debug("Compilation failed", "test", req.TestID, "key", key, "err", err)
		e := &entry{err: err}
		c.store(key, gen, e)
		return e, nil
	}
	if art == nil {
		c.removeDir(dir)
		return nil, types.NewInfrastructureError("compile", fmt.Errorf("compiler returned no artifact"))
	}

	art.Key = key
	if art.Dir == "" {
		art.Dir = dir
	}
	if art.Duration == 0 {
		art.Duration = elapsed
	}
	if art.CompiledAt.IsZero() {
		art.CompiledAt = start
	}
	metrics.RecordCompilation(req.Config.Name, "ok", elapsed)
	c.log.Debug("Compiled", "test", req.TestID, "key", key, "duration", elapsed)

	e := &entry{artifact: art}
	c.store(key, gen, e)
	return e, nil
}

// memoizable reports whether err is a deterministic outcome for the key.
func memoizable(err error) bool {
	return types.IsCompileError(err) || types.IsConfigurationError(err)
}

func (c *ArtifactCache) lookup(key string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *ArtifactCache) store(key string, gen uint64, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		// invalidated while compiling
		return
	}
	c.entries[key] = e
}

func (c *ArtifactCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

func (c *ArtifactCache) dirFor(gen uint64, key string) string {
	return filepath.Join(c.root, strconv.FormatUint(gen, 10), key[:2], key)
}

func (c *ArtifactCache) removeDir(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		c.log.Warn("Failed to remove artifact directory", "dir", dir, "err", err)
	}
}

// InvalidateAll drops every entry and removes the scratch tree. Compilations
// in flight are discarded when they finish and their live waiters start a
// new compilation.
func (c *ArtifactCache) InvalidateAll() error {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.generation++
	c.mu.Unlock()

	c.log.Info("Invalidated artifact cache", "root", c.root)
	if err := os.RemoveAll(c.root); err != nil {
		return types.NewInfrastructureError("remove cache root", err)
	}
	return nil
}

// Stats returns a snapshot of the cache counters.
func (c *ArtifactCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Joined:   c.joined.Load(),
		Compiles: c.compiles.Load(),
		Entries:  n,
	}
}
