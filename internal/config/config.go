// Package config holds the tunables of the log core.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	DefaultFirstBlock         = 1000
	DefaultRecentCommits      = 1000
	DefaultDetailsCache       = 5000
	DefaultContainingCache    = 500
	DefaultContainingQueue    = 10
	DefaultIndexBatch         = 1000
	DefaultAutoRefreshDelay   = 350 * time.Millisecond
	DefaultFilterCommitsLimit = 1000
)

type Config struct {
	// DataDir holds the identity store. Empty keeps identities in memory only.
	DataDir string

	// FirstBlock is the number of newest commits read per root on a soft refresh.
	FirstBlock int
	// RecentCommits bounds the top commits cache.
	RecentCommits int
	// DetailsCache bounds each commit details LRU.
	DetailsCache int
	// ContainingCache bounds the containing-branches LRU.
	ContainingCache int
	// ContainingQueue is the depth of the containing-branches task queue.
	ContainingQueue int
	// IndexBatch is the number of commits read per details index batch.
	IndexBatch int
	// FilterCommitsLimit is the first stage of commits requested from a provider filter.
	FilterCommitsLimit int

	AutoRefreshDelay time.Duration
}

// DefaultConfig returns the defaults, overridden by VCSLOG_DATA_DIR and
// VCSLOG_FIRST_BLOCK when set.
func DefaultConfig() *Config {
	cfg := &Config{
		FirstBlock:         DefaultFirstBlock,
		RecentCommits:      DefaultRecentCommits,
		DetailsCache:       DefaultDetailsCache,
		ContainingCache:    DefaultContainingCache,
		ContainingQueue:    DefaultContainingQueue,
		IndexBatch:         DefaultIndexBatch,
		FilterCommitsLimit: DefaultFilterCommitsLimit,
		AutoRefreshDelay:   DefaultAutoRefreshDelay,
	}
	if dir := os.Getenv("VCSLOG_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	} else if cache, err := os.UserCacheDir(); err == nil {
		cfg.DataDir = filepath.Join(cache, "vcslog")
	}
	if v := os.Getenv("VCSLOG_FIRST_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FirstBlock = n
		}
	}
	return cfg
}

// StorePath returns the identity store file inside DataDir.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "identities.json")
}
