package processors

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// Backup snapshots the service database file into the backups directory.
// Failures are transient: disk pressure and concurrent writes resolve, so
// every attempt is worth retrying.
type Backup struct {
	dataPath   string
	backupsDir string
}

// NewBackup creates a backup processor for the given database file.
func NewBackup(dataPath, backupsDir string) *Backup {
	return &Backup{dataPath: dataPath, backupsDir: backupsDir}
}

func (b *Backup) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	if err := os.MkdirAll(b.backupsDir, 0o755); err != nil {
		return nil, qerrors.Retryablef("create backups dir: %v", err)
	}

	src, err := os.Open(b.dataPath)
	if err != nil {
		return nil, qerrors.Retryablef("open database: %v", err)
	}
	defer src.Close()

	name := fmt.Sprintf("backup_%s%s",
		time.Now().UTC().Format("20060102T150405"),
		filepath.Ext(b.dataPath))
	target := filepath.Join(b.backupsDir, name)

	dst, err := os.Create(target)
	if err != nil {
		return nil, qerrors.Retryablef("create backup file: %v", err)
	}

	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return nil, qerrors.Retryablef("write backup: %v", err)
	}

	return job.Result{
		"backup_file": target,
		"size_bytes":  written,
		"project_id":  stringParam(j, "project_id"),
	}, nil
}
