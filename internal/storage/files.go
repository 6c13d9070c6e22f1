package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"groundline/internal/doc"
	"groundline/internal/pipeline"
)

// Processing statuses for a file's lifecycle in the relational store.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// FileRecord mirrors a row of the files table.
type FileRecord struct {
	ID      string
	UserID  string
	Name    string
	Path    string
	Size    int64
	Hash    string
	Status  string
	Created time.Time
}

// fileMetadata is the shape of files.metadata: the AI-inferred Meta
// plus the per-sheet retention for truncated-table recovery.
type fileMetadata struct {
	doc.Meta
	Sheets map[string]doc.Sheet `json:"sheets,omitempty"`
}

// FileStore reads and writes file rows and their processed artifacts.
// All access to the relational store goes through these methods.
type FileStore struct {
	pool *pgxpool.Pool
}

// NewFileStore wraps an existing connection pool.
func NewFileStore(pool *pgxpool.Pool) *FileStore {
	return &FileStore{pool: pool}
}

// Connect opens the shared pgx pool.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: connect database: %v", doc.ErrStorage, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping database: %v", doc.ErrStorage, err)
	}
	return pool, nil
}

// Create inserts a file row in processing state.
func (s *FileStore) Create(ctx context.Context, rec FileRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, user_id, file_name, file_path, file_size, file_hash, processing_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		rec.ID, rec.UserID, rec.Name, rec.Path, rec.Size, rec.Hash, StatusProcessing)
	if err != nil {
		return fmt.Errorf("%w: insert file: %v", doc.ErrStorage, err)
	}
	return nil
}

// Get loads one file row.
func (s *FileStore) Get(ctx context.Context, fileID string) (FileRecord, error) {
	var rec FileRecord
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, file_name, file_path, COALESCE(file_size, 0), COALESCE(file_hash, ''), processing_status, created_at
		FROM files WHERE id = $1`, fileID).
		Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Path, &rec.Size, &rec.Hash, &rec.Status, &rec.Created)
	if err == pgx.ErrNoRows {
		return rec, fmt.Errorf("%w: file %s not found", doc.ErrStorage, fileID)
	}
	if err != nil {
		return rec, fmt.Errorf("%w: get file: %v", doc.ErrStorage, err)
	}
	return rec, nil
}

// SetStatus moves a file through its processing lifecycle.
func (s *FileStore) SetStatus(ctx context.Context, fileID, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE files SET processing_status = $2 WHERE id = $1`, fileID, status)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", doc.ErrStorage, err)
	}
	return nil
}

// SaveArtifacts persists the parse output: the unit map under content
// (for citation resolution) and Meta plus sheets under metadata.
func (s *FileStore) SaveArtifacts(ctx context.Context, fileID string, content map[string]doc.Unit, meta doc.Meta, sheets map[string]doc.Sheet) error {
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("%w: marshal content: %v", doc.ErrStorage, err)
	}
	metaJSON, err := json.Marshal(fileMetadata{Meta: meta, Sheets: sheets})
	if err != nil {
		return fmt.Errorf("%w: marshal metadata: %v", doc.ErrStorage, err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE files SET content = $2, metadata = $3 WHERE id = $1`,
		fileID, contentJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("%w: save artifacts: %v", doc.ErrStorage, err)
	}
	return nil
}

// Content loads the persisted unit map for a file.
func (s *FileStore) Content(ctx context.Context, fileID string) (map[string]doc.Unit, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(content, '{}'::jsonb) FROM files WHERE id = $1`, fileID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("%w: load content: %v", doc.ErrStorage, err)
	}
	units := make(map[string]doc.Unit)
	if err := json.Unmarshal(raw, &units); err != nil {
		return nil, fmt.Errorf("%w: decode content: %v", doc.ErrStorage, err)
	}
	return units, nil
}

// SheetsForFiles implements pipeline.SheetFetcher: loads the retained
// sheets for each file that has any.
func (s *FileStore) SheetsForFiles(ctx context.Context, fileIDs []string) (pipeline.SheetMap, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(metadata, '{}'::jsonb) FROM files WHERE id = ANY($1)`, fileIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load sheets: %v", doc.ErrStorage, err)
	}
	defer rows.Close()

	out := make(pipeline.SheetMap)
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("%w: scan sheets: %v", doc.ErrStorage, err)
		}
		var meta fileMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("%w: decode metadata for %s: %v", doc.ErrStorage, id, err)
		}
		if len(meta.Sheets) > 0 {
			out[id] = meta.Sheets
		}
	}
	return out, rows.Err()
}

// Delete removes a file row.
func (s *FileStore) Delete(ctx context.Context, fileID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("%w: delete file: %v", doc.ErrStorage, err)
	}
	return nil
}

// AddProjectFile links a file to a project.
func (s *FileStore) AddProjectFile(ctx context.Context, projectID, fileID, addedBy string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO project_files (project_id, file_id, added_at, added_by)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT DO NOTHING`, projectID, fileID, addedBy)
	if err != nil {
		return fmt.Errorf("%w: add project file: %v", doc.ErrStorage, err)
	}
	return nil
}
