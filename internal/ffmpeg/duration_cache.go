package ffmpeg

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DurationCache memoizes probe results per absolute file path so repeated
// plan construction over the same motion clip library doesn't re-invoke
// ffprobe. Concurrent lookups for the same path are collapsed into a single
// ffprobe invocation.
type DurationCache struct {
	prober *Prober
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]*StreamInfo
}

// NewDurationCache creates a cache backed by the given prober.
func NewDurationCache(prober *Prober) *DurationCache {
	return &DurationCache{
		prober:  prober,
		entries: make(map[string]*StreamInfo),
	}
}

// Get returns cached stream info for path, probing and memoizing on miss.
func (c *DurationCache) Get(ctx context.Context, path string) (*StreamInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", path, err)
	}

	c.mu.RLock()
	if info, ok := c.entries[abs]; ok {
		c.mu.RUnlock()
		return info, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(abs, func() (interface{}, error) {
		info, err := c.prober.ProbeSimple(ctx, abs)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[abs] = info
		c.mu.Unlock()

		return info, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*StreamInfo), nil
}

// Invalidate removes a cached entry, forcing the next Get to re-probe.
func (c *DurationCache) Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	c.mu.Lock()
	delete(c.entries, abs)
	c.mu.Unlock()
}

// Len returns the number of cached entries.
func (c *DurationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
