package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"storesync/internal/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Store persists pending submissions in a local SQLite database so that a
// crash or restart never loses a queued write.
type Store struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to queue database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Pending submission store initialized")
	return &Store{db: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pending_submissions (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            store_id TEXT NOT NULL,
            session_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_pending_created_at ON pending_submissions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_session_id ON pending_submissions(session_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// Enqueue inserts or overwrites a submission by id. The payload is stored as
// opaque JSON; no validation happens here.
func (s *Store) Enqueue(ctx context.Context, sub *models.PendingSubmission) error {
	payload, err := json.Marshal(sub.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `INSERT INTO pending_submissions (id, type, store_id, session_id, payload, created_at)
              VALUES (?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  type = excluded.type,
                  store_id = excluded.store_id,
                  session_id = excluded.session_id,
                  payload = excluded.payload,
                  created_at = excluded.created_at`

	_, err = s.db.ExecContext(ctx, query,
		sub.ID,
		string(sub.Type),
		sub.StoreID,
		sub.SessionID,
		string(payload),
		sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue submission: %w", err)
	}
	return nil
}

// Dequeue removes a submission by id. A missing id is not an error so the
// call is safe to repeat after partial failures.
func (s *Store) Dequeue(ctx context.Context, id string) error {
	query := `DELETE FROM pending_submissions WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to dequeue submission: %w", err)
	}
	return nil
}

// ListAll returns every queued submission. Callers needing order must sort
// by CreatedAt.
func (s *Store) ListAll(ctx context.Context) ([]models.PendingSubmission, error) {
	query := `SELECT id, type, store_id, session_id, payload, created_at FROM pending_submissions`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []models.PendingSubmission
	for rows.Next() {
		var sub models.PendingSubmission
		var typ, payload string
		if err := rows.Scan(&sub.ID, &typ, &sub.StoreID, &sub.SessionID, &payload, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		sub.Type = models.SubmissionType(typ)
		if err := json.Unmarshal([]byte(payload), &sub.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload for %s: %w", sub.ID, err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate submissions: %w", err)
	}
	return subs, nil
}

// Count returns the number of queued submissions without touching payloads.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_submissions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count submissions: %w", err)
	}
	return count, nil
}

// Clear removes all submissions. Administrative escape hatch, not used in
// the normal submit/drain flow.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_submissions`); err != nil {
		return fmt.Errorf("failed to clear submissions: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
