package recorder

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"letterfall/engine/internal/logging"
)

// RetentionPolicy defines how many recording bundles are retained on disk.
type RetentionPolicy struct {
	MaxBundles int
	MaxAge     time.Duration
}

// StorageStats summarises the disk footprint of persisted recordings.
type StorageStats struct {
	Bundles   int
	Bytes     int64
	LastSweep time.Time
}

// Cleaner periodically prunes recording bundles according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	now    func() time.Time
	stats  StorageStats
}

// NewCleaner constructs a cleaner for the provided recording directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	return &Cleaner{dir: dir, policy: policy, log: logger, now: time.Now}
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Perform an eager sweep so retention applies immediately on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

type bundle struct {
	name    string
	path    string
	size    int64
	modTime time.Time
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("recording retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	//1.- Collect bundle directories newest-first so limits favour recent sessions.
	bundles := c.collect(entries)
	now := c.now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, b := range bundles {
		shouldRemove, reason := c.shouldRemove(b, now, kept)
		if shouldRemove {
			if err := os.RemoveAll(b.path); err != nil {
				c.log.Warn("recording retention removal failed", logging.Error(err), logging.String("bundle", b.name))
				stats.Bundles++
				stats.Bytes += b.size
				kept++
			} else {
				c.log.Info("recording retention removed bundle", logging.String("bundle", b.name), logging.String("reason", reason))
			}
			continue
		}
		kept++
		stats.Bundles++
		stats.Bytes += b.size
	}
	c.mu.Lock()
	//2.- Publish refreshed statistics for the operational endpoints.
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*bundle {
	bundles := make([]*bundle, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("recording retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("recording retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		bundles = append(bundles, &bundle{name: entry.Name(), path: path, size: size, modTime: info.ModTime()})
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].modTime.After(bundles[j].modTime) })
	return bundles
}

func (c *Cleaner) shouldRemove(b *bundle, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(b.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxBundles > 0 && kept >= c.policy.MaxBundles {
		reasons = append(reasons, fmt.Sprintf(">=%d bundles", c.policy.MaxBundles))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
