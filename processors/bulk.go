package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	qerrors "github.com/loamlabs/taskqueue/errors"
	"github.com/loamlabs/taskqueue/job"
)

// TaskExporter reads task records out of the tracking backend. The backend
// itself stays external to the queue; this is the narrow seam the bulk
// processors consume it through.
type TaskExporter interface {
	ExportTasks(ctx context.Context, projectID string) ([]map[string]any, error)
}

// TaskImporter writes task records into the tracking backend, returning
// how many were imported.
type TaskImporter interface {
	ImportTasks(ctx context.Context, projectID string, tasks []map[string]any) (int, error)
}

// BulkExport writes a project's tasks to a JSON snapshot file.
//
// Parameters: project_id (optional, empty exports everything).
type BulkExport struct {
	source TaskExporter
	dir    string
}

// NewBulkExport creates a bulk export processor writing into dir.
func NewBulkExport(source TaskExporter, dir string) *BulkExport {
	return &BulkExport{source: source, dir: dir}
}

func (e *BulkExport) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	projectID := stringParam(j, "project_id")

	tasks, err := e.source.ExportTasks(ctx, projectID)
	if err != nil {
		return nil, qerrors.Retryablef("export tasks: %v", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, qerrors.Retryablef("create export dir: %v", err)
	}

	name := fmt.Sprintf("export_%s.json", time.Now().UTC().Format("20060102T150405"))
	target := filepath.Join(e.dir, name)

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, qerrors.NonRetryablef("encode export: %v", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		os.Remove(target)
		return nil, qerrors.Retryablef("write export: %v", err)
	}

	return job.Result{
		"export_file": target,
		"task_count":  len(tasks),
		"project_id":  projectID,
	}, nil
}

// BulkImport loads task records from a JSON snapshot file into the backend.
//
// Parameters: file (required), project_id (optional). A malformed snapshot
// can never import, so it fails permanently.
type BulkImport struct {
	sink TaskImporter
}

// NewBulkImport creates a bulk import processor.
func NewBulkImport(sink TaskImporter) *BulkImport {
	return &BulkImport{sink: sink}
}

func (i *BulkImport) Process(ctx context.Context, j *job.Job) (job.Result, error) {
	file, err := requireString(j, "file")
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, qerrors.NonRetryablef("import file %s does not exist", file)
		}
		return nil, qerrors.Retryablef("read import file: %v", err)
	}

	var tasks []map[string]any
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, qerrors.NonRetryablef("malformed import file %s: %v", file, err)
	}

	imported, err := i.sink.ImportTasks(ctx, stringParam(j, "project_id"), tasks)
	if err != nil {
		return nil, qerrors.Retryablef("import tasks: %v", err)
	}

	return job.Result{
		"imported": imported,
		"file":     file,
	}, nil
}
