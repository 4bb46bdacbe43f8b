package processors

import (
	"context"
	"os"
	"path/filepath"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// Cleanup prunes aged artifacts (backups, export snapshots) from a
// directory.
//
// Parameters: max_age_hours (optional override of the configured
// retention).
type Cleanup struct {
	dir    string
	maxAge time.Duration
}

// NewCleanup creates a cleanup processor for dir with a default retention.
func NewCleanup(dir string, maxAge time.Duration) *Cleanup {
	return &Cleanup{dir: dir, maxAge: maxAge}
}

func (c *Cleanup) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	maxAge := c.maxAge
	if hours, ok := numberParam(j, "max_age_hours"); ok && hours > 0 {
		maxAge = time.Duration(hours * float64(time.Hour))
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return job.Result{"removed": 0}, nil
		}
		return nil, qerrors.Retryablef("read dir %s: %v", c.dir, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, entry.Name())); err != nil {
			return nil, qerrors.Retryablef("remove %s: %v", entry.Name(), err)
		}
		removed++
	}

	return job.Result{"removed": removed}, nil
}
