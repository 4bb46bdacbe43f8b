// Package taskstore gives the bulk processors a narrow seam onto the task
// tracking database. The CRUD service owns the real schema; this package
// only snapshots task documents in and out.
package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store reads and writes task documents in the service's SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database and ensures the snapshot table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open task database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping task database: %w", err)
	}

	const schema = `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT '',
		data TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure tasks table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ExportTasks returns all task documents, optionally limited to a project.
func (s *Store) ExportTasks(ctx context.Context, projectID string) ([]map[string]any, error) {
	query := `SELECT id, project_id, data FROM tasks`
	args := []any{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []map[string]any
	for rows.Next() {
		var id, project, data string
		if err := rows.Scan(&id, &project, &data); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task := map[string]any{}
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("decode task %s: %w", id, err)
		}
		task["id"] = id
		task["project_id"] = project
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ImportTasks upserts task documents, returning how many were written.
// Documents without an id are skipped.
func (s *Store) ImportTasks(ctx context.Context, projectID string, tasks []map[string]any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO tasks (id, project_id, data) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare import: %w", err)
	}
	defer stmt.Close()

	imported := 0
	for _, task := range tasks {
		id, _ := task["id"].(string)
		if id == "" {
			continue
		}
		project, _ := task["project_id"].(string)
		if projectID != "" {
			project = projectID
		}
		data, err := json.Marshal(task)
		if err != nil {
			return 0, fmt.Errorf("encode task %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, project, string(data)); err != nil {
			return 0, fmt.Errorf("write task %s: %w", id, err)
		}
		imported++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return imported, nil
}
