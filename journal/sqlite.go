package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder is a SQLite-backed implementation of Recorder.
// Records survive process restarts so runs can be audited and replayed later.
type SQLiteRecorder struct {
	db *sql.DB
}

var _ Recorder = (*SQLiteRecorder)(nil)

// OpenSQLite opens (or creates) a journal database at dbPath
func OpenSQLite(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}

	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

func (r *SQLiteRecorder) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS step_records (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			pipeline_id TEXT NOT NULL,
			stage_id TEXT NOT NULL,
			stage_group TEXT,
			iteration INTEGER NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			input_state TEXT,
			approved INTEGER NOT NULL DEFAULT 0,
			feedback TEXT,
			override TEXT,
			updates TEXT,
			error TEXT,
			seq INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_records_run ON step_records(run_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_step_records_pipeline ON step_records(pipeline_id)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Append records an executed step
func (r *SQLiteRecorder) Append(ctx context.Context, record *StepRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if record.RunID == "" {
		return fmt.Errorf("record run ID cannot be empty")
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	approved := 0
	if record.Approved {
		approved = 1
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO step_records
			(id, run_id, pipeline_id, stage_id, stage_group, iteration, timestamp,
			 input_state, approved, feedback, override, updates, error, seq)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			COALESCE((SELECT MAX(seq) + 1 FROM step_records WHERE run_id = ?), 0))`,
		record.ID, record.RunID, record.PipelineID, record.StageID, record.Group,
		record.Iteration, record.Timestamp, string(record.InputState), approved,
		record.Feedback, record.Override, string(record.Updates), record.Error,
		record.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to append step record: %w", err)
	}

	return nil
}

// GetByRunID retrieves all records for a run in append order
func (r *SQLiteRecorder) GetByRunID(ctx context.Context, runID string) ([]*StepRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, run_id, pipeline_id, stage_id, stage_group, iteration, timestamp,
			input_state, approved, feedback, override, updates, error
		 FROM step_records WHERE run_id = ? ORDER BY seq`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query step records: %w", err)
	}
	defer rows.Close()

	var records []*StepRecord
	for rows.Next() {
		var rec StepRecord
		var group, inputState, feedback, override, updates, errMsg sql.NullString
		var approved int

		err := rows.Scan(&rec.ID, &rec.RunID, &rec.PipelineID, &rec.StageID, &group,
			&rec.Iteration, &rec.Timestamp, &inputState, &approved, &feedback,
			&override, &updates, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}

		rec.Group = group.String
		rec.Approved = approved != 0
		rec.Feedback = feedback.String
		rec.Override = override.String
		rec.Error = errMsg.String
		if inputState.String != "" {
			rec.InputState = []byte(inputState.String)
		}
		if updates.String != "" {
			rec.Updates = []byte(updates.String)
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step records: %w", err)
	}

	if records == nil {
		records = []*StepRecord{}
	}
	return records, nil
}

// ListRuns returns the distinct run IDs present in the journal
func (r *SQLiteRecorder) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT run_id FROM step_records GROUP BY run_id ORDER BY MIN(rowid)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run ID: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// Close releases the underlying database
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
