package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS classifications (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        text TEXT NOT NULL,
        category TEXT NOT NULL,
        confidence REAL NOT NULL,
        model_version TEXT NOT NULL,
        cached INTEGER NOT NULL DEFAULT 0,
        created_at DATETIME NOT NULL,
        data_hash TEXT NOT NULL DEFAULT ''
    );
    CREATE INDEX IF NOT EXISTS idx_classifications_category ON classifications(category);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        run_id TEXT NOT NULL UNIQUE,
        model_type TEXT NOT NULL,
        strategy TEXT NOT NULL,
        row_count INTEGER NOT NULL,
        classes INTEGER NOT NULL,
        accuracy REAL,
        macro_f1 REAL,
        best_params TEXT,
        artifact_path TEXT NOT NULL,
        trained_at DATETIME NOT NULL
    );
    `

// Store persists classifications served by the API and runs of the
// trainer in SQLite.
type Store struct {
	db *sql.DB
}

// Open creates the database file and its parent directory if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases from splitting across connections.
	database.SetMaxOpenConns(1)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := addDataHashColumn(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrate classifications: %w", err)
	}
	return &Store{db: database}, nil
}

// addDataHashColumn upgrades databases created before classifications
// carried a data hash.
func addDataHashColumn(database *sql.DB) error {
	rows, err := database.Query(`PRAGMA table_info(classifications)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dflt      sql.NullString
			primaryID int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &primaryID); err != nil {
			return err
		}
		if name == "data_hash" {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = database.Exec(`ALTER TABLE classifications ADD COLUMN data_hash TEXT NOT NULL DEFAULT ''`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type Classification struct {
	ID           int64     `json:"id"`
	Text         string    `json:"text"`
	Category     string    `json:"category"`
	Confidence   float64   `json:"confidence"`
	ModelVersion string    `json:"model_version"`
	Cached       bool      `json:"cached"`
	CreatedAt    time.Time `json:"created_at"`
	// DataHash is ReportHash over the stored fields, fixed at insert time.
	DataHash string `json:"data_hash"`
}

// SaveClassification records one served prediction with its data hash and
// returns its id. The hash covers the row id, so it is written in the same
// transaction as the insert.
func (s *Store) SaveClassification(ctx context.Context, c Classification) (int64, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO classifications (text, category, confidence, model_version, cached, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		c.Text, c.Category, c.Confidence, c.ModelVersion, c.Cached, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	hash := ReportHash(id, c.Text, c.Category, c.ModelVersion, c.CreatedAt)
	if _, err := tx.ExecContext(ctx, `UPDATE classifications SET data_hash = ? WHERE id = ?`, hash, id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// RecentClassifications returns up to limit records, newest first.
func (s *Store) RecentClassifications(ctx context.Context, limit int) ([]Classification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, text, category, confidence, model_version, cached, created_at, data_hash
        FROM classifications
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]Classification, 0)
	for rows.Next() {
		var c Classification
		if err := rows.Scan(&c.ID, &c.Text, &c.Category, &c.Confidence, &c.ModelVersion, &c.Cached, &c.CreatedAt, &c.DataHash); err != nil {
			return nil, err
		}
		records = append(records, c)
	}
	return records, rows.Err()
}

type CategoryCount struct {
	Category      string  `json:"category"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// CategoryStats aggregates stored classifications per category, most
// frequent first.
func (s *Store) CategoryStats(ctx context.Context) ([]CategoryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT category, COUNT(*), AVG(confidence)
        FROM classifications
        GROUP BY category
        ORDER BY COUNT(*) DESC, category ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make([]CategoryCount, 0)
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count, &c.AvgConfidence); err != nil {
			return nil, err
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}

type TrainingRun struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	ModelType    string    `json:"model_type"`
	Strategy     string    `json:"strategy"`
	Rows         int       `json:"rows"`
	Classes      int       `json:"classes"`
	Accuracy     *float64  `json:"accuracy,omitempty"`
	MacroF1      *float64  `json:"macro_f1,omitempty"`
	BestParams   string    `json:"best_params,omitempty"`
	ArtifactPath string    `json:"artifact_path"`
	TrainedAt    time.Time `json:"trained_at"`
}

// SaveTrainingRun appends a row to training_log. Accuracy and MacroF1 stay
// NULL for runs without a held-out evaluation.
func (s *Store) SaveTrainingRun(ctx context.Context, run TrainingRun) error {
	if run.RunID == "" {
		return errors.New("run id required")
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (
            run_id, model_type, strategy, row_count, classes, accuracy, macro_f1,
            best_params, artifact_path, trained_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ModelType, run.Strategy, run.Rows, run.Classes,
		nullFloat(run.Accuracy), nullFloat(run.MacroF1),
		run.BestParams, run.ArtifactPath, run.TrainedAt)
	return err
}

// TrainingRuns returns up to limit runs, newest first.
func (s *Store) TrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, run_id, model_type, strategy, row_count, classes, accuracy, macro_f1,
               COALESCE(best_params, ''), artifact_path, trained_at
        FROM training_log
        ORDER BY id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var run TrainingRun
		var accuracy, macroF1 sql.NullFloat64
		if err := rows.Scan(&run.ID, &run.RunID, &run.ModelType, &run.Strategy, &run.Rows, &run.Classes,
			&accuracy, &macroF1, &run.BestParams, &run.ArtifactPath, &run.TrainedAt); err != nil {
			return nil, err
		}
		if accuracy.Valid {
			run.Accuracy = &accuracy.Float64
		}
		if macroF1.Valid {
			run.MacroF1 = &macroF1.Float64
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
