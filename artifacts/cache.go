// Package artifacts memoizes generated images by their full parameter set.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Key identifies one generation. Two keys are equal exactly when every
// effective parameter is equal, so Key is used directly as a map key.
type Key struct {
	Variant        string
	Prompt         string
	NegativePrompt string
	Steps          int
	GuidanceScale  float64
	// Seed is -1 for non-deterministic requests.
	Seed   int64
	Width  int
	Height int
	// AdapterScale is meaningful only when HasAdapterScale is set.
	AdapterScale    float64
	HasAdapterScale bool
}

// String returns a stable "variant:digest" form for logs and history rows.
func (k Key) String() string {
	scale := "none"
	if k.HasAdapterScale {
		scale = strconv.FormatFloat(k.AdapterScale, 'g', -1, 64)
	}
	// Prompts are quoted so no choice of text can shift a field boundary.
	fields := []string{
		strconv.Quote(k.Prompt),
		strconv.Quote(k.NegativePrompt),
		strconv.Itoa(k.Steps),
		strconv.FormatFloat(k.GuidanceScale, 'g', -1, 64),
		strconv.FormatInt(k.Seed, 10),
		strconv.Itoa(k.Width),
		strconv.Itoa(k.Height),
		scale,
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x00")))
	return k.Variant + ":" + hex.EncodeToString(sum[:])
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Cache stores images for the life of the process. There is no eviction;
// WarnThreshold only makes growth visible to operators.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]image.Image
	group   singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64

	warnAt int
	warned atomic.Bool
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for growth warnings.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WarnThreshold logs a single warning once the entry count reaches n.
// Zero disables the warning.
func WarnThreshold(n int) Option {
	return func(c *Cache) { c.warnAt = n }
}

// New creates an empty Cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]image.Image),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrCompute returns the image stored under key, or runs compute and
// stores its result. hit reports whether the image came from the cache.
// Concurrent callers with the same key share one compute, which runs
// detached from any single caller's cancellation; each caller stops waiting
// when its own ctx is done. A failed compute stores nothing.
func (c *Cache) GetOrCompute(ctx context.Context, key Key, compute func(context.Context) (image.Image, error)) (img image.Image, hit bool, err error) {
	if img, ok := c.get(key); ok {
		c.hits.Add(1)
		return img, true, nil
	}

	// Only the caller whose closure runs compute sees computed set.
	computed := false
	ch := c.group.DoChan(key.String(), func() (any, error) {
		if img, ok := c.get(key); ok {
			return img, nil
		}
		computed = true
		img, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if img == nil {
			return nil, fmt.Errorf("artifacts: compute returned no image")
		}
		c.put(key, img)
		return img, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		c.misses.Add(1)
		return nil, false, res.Err
	}
	if !computed {
		c.hits.Add(1)
		return res.Val.(image.Image), true, nil
	}
	c.misses.Add(1)
	return res.Val.(image.Image), false, nil
}

func (c *Cache) get(key Key) (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.entries[key]
	return img, ok
}

func (c *Cache) put(key Key, img image.Image) {
	c.mu.Lock()
	c.entries[key] = img
	n := len(c.entries)
	c.mu.Unlock()

	if c.warnAt > 0 && n >= c.warnAt && c.warned.CompareAndSwap(false, true) {
		c.logger.Warn("artifact cache has no eviction and keeps growing",
			zap.Int("entries", n),
			zap.Int("threshold", c.warnAt))
	}
}

// Len returns the number of stored images.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
