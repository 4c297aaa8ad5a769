// Package provenance keeps a sqlite ledger of pipeline runs: what went in,
// how it was partitioned, which model and checkpoint ran, and which chunks
// were written.
package provenance

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/cloudsplit/internal/monitoring"
	"github.com/banshee-data/cloudsplit/internal/partition"
	"github.com/banshee-data/cloudsplit/internal/serialize"
	"github.com/banshee-data/cloudsplit/internal/timeutil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("run not found")

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Run is one row of the runs table. Times are unix nanoseconds.
type Run struct {
	RunID          string `json:"run_id"`
	Source         string `json:"source"`
	Splits         string `json:"splits"`
	UseFeatures    bool   `json:"use_features"`
	ModelType      string `json:"model_type"`
	Checkpoint     string `json:"checkpoint"`
	Device         string `json:"device"`
	Status         Status `json:"status"`
	Error          string `json:"error,omitempty"`
	InputPoints    int    `json:"input_points"`
	AssignedPoints int    `json:"assigned_points"`
	DroppedPoints  int    `json:"dropped_points"`
	OutputPath     string `json:"output_path"`
	OutputWritten  bool   `json:"output_written"`
	CreatedAt      int64  `json:"created_at"`
	FinishedAt     int64  `json:"finished_at"`
}

// Duration is FinishedAt-CreatedAt, or 0 while running.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == 0 {
		return 0
	}
	return time.Duration(r.FinishedAt - r.CreatedAt)
}

// PartitionRow records one grid cell that received points. Dropped cells
// have no Seq or Name.
type PartitionRow struct {
	Cell       int
	Seq        int // -1 for dropped cells
	Name       string
	Limit      [3]float64
	PointCount int
	Dropped    bool
}

// ChunkRow records one record of the result file.
type ChunkRow struct {
	Position   int
	Name       string
	Parent     string
	FirstPoint int
	PointCount int
}

// Outcome is what FinishRun stores for a completed run.
type Outcome struct {
	AssignedPoints int
	DroppedPoints  int
	OutputPath     string
	OutputWritten  bool
}

// Store wraps the ledger database.
type Store struct {
	db    *sql.DB
	path  string
	clock timeutil.Clock
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the ledger at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open provenance db: %w", err)
	}
	// single connection so the PRAGMAs hold for every statement
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path, clock: timeutil.RealClock{}}, nil
}

// SetClock replaces the clock used for run timestamps.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartRun inserts r with status running, assigning RunID and CreatedAt
// when unset.
func (s *Store) StartRun(r *Run) error {
	if r.RunID == "" {
		r.RunID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = s.clock.Now().UnixNano()
	}
	r.Status = StatusRunning
	_, err := s.db.Exec(`
		INSERT INTO runs (
			run_id, source, splits, use_features, model_type, checkpoint, device,
			status, input_points, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Splits, boolInt(r.UseFeatures), r.ModelType, r.Checkpoint, r.Device,
		string(r.Status), r.InputPoints, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	monitoring.Logf("[provenance] run %s started for %s", r.RunID, r.Source)
	return nil
}

// SetModel records the model actually configured for a run.
func (s *Store) SetModel(runID, modelType, checkpoint, device string) error {
	res, err := s.db.Exec(`UPDATE runs SET model_type = ?, checkpoint = ?, device = ? WHERE run_id = ?`,
		modelType, checkpoint, device, runID)
	if err != nil {
		return fmt.Errorf("update run model: %w", err)
	}
	return expectOne(res, runID)
}

// RecordPartitions stores every emitted partition and dropped cell of res.
func (s *Store) RecordPartitions(runID string, res *partition.Result) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO partitions (run_id, cell, seq, name, limit_x, limit_y, limit_z, point_count, dropped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare partition insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range res.Partitions {
		if _, err := stmt.Exec(runID, p.Cell, p.Seq, p.Name, p.Limit[0], p.Limit[1], p.Limit[2], p.Len(), 0); err != nil {
			return fmt.Errorf("insert partition %s: %w", p.Name, err)
		}
	}
	for _, d := range res.Dropped {
		if _, err := stmt.Exec(runID, d.Cell, nil, nil, d.Limit[0], d.Limit[1], d.Limit[2], len(d.Indices), 1); err != nil {
			return fmt.Errorf("insert dropped cell %d: %w", d.Cell, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit partitions: %w", err)
	}
	monitoring.Logf("[provenance] run %s: %d partitions, %d dropped cells", runID, len(res.Partitions), len(res.Dropped))
	return nil
}

// RecordChunks stores the records of the result file in file order.
func (s *Store) RecordChunks(runID string, records []serialize.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO result_chunks (run_id, position, name, parent, first_point, point_count)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err := stmt.Exec(runID, i, r.Name, r.Parent, r.Offset, r.Len()); err != nil {
			return fmt.Errorf("insert chunk %s: %w", r.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}
	return nil
}

// FinishRun marks a run succeeded, or failed with runErr's text.
func (s *Store) FinishRun(runID string, out Outcome, runErr error) error {
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	res, err := s.db.Exec(`
		UPDATE runs SET status = ?, error = ?, assigned_points = ?, dropped_points = ?,
			output_path = ?, output_written = ?, finished_at = ?
		WHERE run_id = ?`,
		string(status), msg, out.AssignedPoints, out.DroppedPoints,
		out.OutputPath, boolInt(out.OutputWritten), s.clock.Now().UnixNano(), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := expectOne(res, runID); err != nil {
		return err
	}
	monitoring.Logf("[provenance] run %s %s", runID, status)
	return nil
}

const runColumns = `run_id, source, splits, use_features, model_type, checkpoint, device,
	status, error, input_points, assigned_points, dropped_points, output_path,
	output_written, created_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r                Run
		status           string
		useFeat, written int
	)
	err := row.Scan(&r.RunID, &r.Source, &r.Splits, &useFeat, &r.ModelType, &r.Checkpoint, &r.Device,
		&status, &r.Error, &r.InputPoints, &r.AssignedPoints, &r.DroppedPoints, &r.OutputPath,
		&written, &r.CreatedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.UseFeatures = useFeat != 0
	r.OutputWritten = written != 0
	return &r, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListPartitions returns a run's cells in grid order.
func (s *Store) ListPartitions(runID string) ([]PartitionRow, error) {
	rows, err := s.db.Query(`
		SELECT cell, seq, name, limit_x, limit_y, limit_z, point_count, dropped
		FROM partitions WHERE run_id = ? ORDER BY cell`, runID)
	if err != nil {
		return nil, fmt.Errorf("query partitions: %w", err)
	}
	defer rows.Close()

	var out []PartitionRow
	for rows.Next() {
		var (
			p       PartitionRow
			seq     sql.NullInt64
			name    sql.NullString
			dropped int
		)
		if err := rows.Scan(&p.Cell, &seq, &name, &p.Limit[0], &p.Limit[1], &p.Limit[2], &p.PointCount, &dropped); err != nil {
			return nil, fmt.Errorf("scan partition: %w", err)
		}
		p.Seq = -1
		if seq.Valid {
			p.Seq = int(seq.Int64)
		}
		p.Name = name.String
		p.Dropped = dropped != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListChunks returns a run's result records in file order.
func (s *Store) ListChunks(runID string) ([]ChunkRow, error) {
	rows, err := s.db.Query(`
		SELECT position, name, parent, first_point, point_count
		FROM result_chunks WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.Position, &c.Name, &c.Parent, &c.FirstPoint, &c.PointCount); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
