package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
)

// timeFormat is fixed width so timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS optimization_runs (
	run_id          TEXT PRIMARY KEY,
	case_id         TEXT NOT NULL,
	status          TEXT NOT NULL,
	parameters_json TEXT,
	started_at      TEXT NOT NULL,
	finished_at     TEXT
);

CREATE TABLE IF NOT EXISTS perimeter_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	state_id         TEXT NOT NULL,
	search_id        TEXT NOT NULL,
	status           TEXT NOT NULL,
	stop_state       TEXT NOT NULL,
	depth            INTEGER NOT NULL,
	root_cost        REAL,
	best_cost        REAL,
	functional_cost  REAL,
	virtual_cost     REAL,
	best_leaf        TEXT,
	network_actions  TEXT NOT NULL,
	setpoints        TEXT NOT NULL,
	history          TEXT NOT NULL,
	leaves_evaluated INTEGER NOT NULL,
	error            TEXT,
	created_at       TEXT NOT NULL,
	UNIQUE (run_id, state_id),
	FOREIGN KEY (run_id) REFERENCES optimization_runs(run_id)
);

CREATE TABLE IF NOT EXISTS leaf_log (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	search_id       TEXT NOT NULL,
	state_id        TEXT NOT NULL,
	depth           INTEGER NOT NULL,
	leaf_id         TEXT,
	leaf            TEXT NOT NULL,
	event           TEXT NOT NULL,
	cost            REAL,
	functional_cost REAL,
	virtual_cost    REAL,
	detail          TEXT,
	created_at      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_leaf_log_search ON leaf_log(search_id);
`

// #endregion schema

// #region store-struct
// Store keeps optimization runs and their perimeter results in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for the leaf log and the boundary graph.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region runs
// CreateRun starts a RUNNING run for a case.
func (s *Store) CreateRun(caseID, parametersJSON string) (RunRecord, error) {
	rec := RunRecord{
		RunID:          uuid.NewString(),
		CaseID:         caseID,
		Status:         RunRunning,
		ParametersJSON: parametersJSON,
		StartedAt:      time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO optimization_runs (run_id, case_id, status, parameters_json, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.RunID, rec.CaseID, string(rec.Status), nullIfEmpty(parametersJSON),
		rec.StartedAt.Format(timeFormat),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}
	return rec, nil
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(runID string, status RunStatus) error {
	res, err := s.db.Exec(
		`UPDATE optimization_runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		string(status), time.Now().UTC().Format(timeFormat), runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// GetRun reads one run.
func (s *Store) GetRun(runID string) (RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT run_id, case_id, status, parameters_json, started_at, finished_at
		 FROM optimization_runs WHERE run_id = ?`, runID,
	)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return rec, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, case_id, status, parameters_json, started_at, finished_at
		 FROM optimization_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var status, started string
	var params, finished sql.NullString
	if err := row.Scan(&rec.RunID, &rec.CaseID, &status, &params, &started, &finished); err != nil {
		return RunRecord{}, err
	}
	rec.Status = RunStatus(status)
	rec.ParametersJSON = params.String
	rec.StartedAt, _ = time.Parse(timeFormat, started)
	if finished.Valid {
		rec.FinishedAt, _ = time.Parse(timeFormat, finished.String)
	}
	return rec, nil
}

// #endregion runs

// #region perimeter-results
// NewPerimeterRecord flattens a search result for storage.
func NewPerimeterRecord(runID string, res *searchtree.Result) PerimeterRecord {
	rec := PerimeterRecord{
		RunID:           runID,
		StateID:         res.State.ID(),
		SearchID:        res.SearchID,
		Status:          string(res.Status),
		StopState:       string(res.StopState),
		Depth:           res.Depth(),
		RootCost:        math.NaN(),
		BestCost:        math.NaN(),
		FunctionalCost:  math.NaN(),
		VirtualCost:     math.NaN(),
		Setpoints:       map[string]float64{},
		LeavesEvaluated: res.LeavesEvaluated,
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if res.Root != nil {
		rec.RootCost = res.Root.Cost()
	}
	if res.Best != nil {
		rec.BestLeaf = res.Best.Identifier()
		rec.BestCost = res.Best.Cost()
		rec.FunctionalCost = res.Best.FunctionalCost()
		rec.VirtualCost = res.Best.VirtualCost()
		for _, na := range res.Best.ActivatedNetworkActions() {
			rec.NetworkActions = append(rec.NetworkActions, na.ID)
		}
		for _, ra := range res.Best.ActivatedRangeActions() {
			rec.Setpoints[ra.ID] = res.Best.Setpoint(ra)
		}
	}
	for _, h := range res.History {
		if math.IsInf(h.Cost, 0) || math.IsNaN(h.Cost) {
			continue
		}
		rec.History = append(rec.History, HistoryPoint{Depth: h.Depth, Leaf: h.Leaf, Cost: h.Cost})
	}
	return rec
}

// SavePerimeterResult stores one perimeter outcome. Saving a state twice for a run
// replaces the earlier row.
func (s *Store) SavePerimeterResult(rec PerimeterRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	actions, err := json.Marshal(nonNil(rec.NetworkActions))
	if err != nil {
		return fmt.Errorf("marshal network actions: %w", err)
	}
	setpoints, err := json.Marshal(rec.Setpoints)
	if err != nil {
		return fmt.Errorf("marshal setpoints: %w", err)
	}
	history, err := json.Marshal(nonNil(rec.History))
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO perimeter_results (run_id, state_id, search_id, status, stop_state, depth,
			root_cost, best_cost, functional_cost, virtual_cost, best_leaf,
			network_actions, setpoints, history, leaves_evaluated, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, state_id) DO UPDATE SET
			search_id = excluded.search_id, status = excluded.status, stop_state = excluded.stop_state,
			depth = excluded.depth, root_cost = excluded.root_cost, best_cost = excluded.best_cost,
			functional_cost = excluded.functional_cost, virtual_cost = excluded.virtual_cost,
			best_leaf = excluded.best_leaf, network_actions = excluded.network_actions,
			setpoints = excluded.setpoints, history = excluded.history,
			leaves_evaluated = excluded.leaves_evaluated, error = excluded.error,
			created_at = excluded.created_at`,
		rec.RunID, rec.StateID, rec.SearchID, rec.Status, rec.StopState, rec.Depth,
		nullIfNotFinite(rec.RootCost), nullIfNotFinite(rec.BestCost),
		nullIfNotFinite(rec.FunctionalCost), nullIfNotFinite(rec.VirtualCost),
		nullIfEmpty(rec.BestLeaf), string(actions), string(setpoints), string(history),
		rec.LeavesEvaluated, nullIfEmpty(rec.Error), rec.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save perimeter result %s: %w", rec.StateID, err)
	}
	return nil
}

// ListPerimeterResults returns the perimeters of a run, preventive first when it
// was saved first.
func (s *Store) ListPerimeterResults(runID string) ([]PerimeterRecord, error) {
	rows, err := s.db.Query(
		`SELECT run_id, state_id, search_id, status, stop_state, depth,
			root_cost, best_cost, functional_cost, virtual_cost, best_leaf,
			network_actions, setpoints, history, leaves_evaluated, error, created_at
		 FROM perimeter_results WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list perimeter results: %w", err)
	}
	defer rows.Close()

	var out []PerimeterRecord
	for rows.Next() {
		var rec PerimeterRecord
		var root, best, functional, virtual sql.NullFloat64
		var bestLeaf, errText sql.NullString
		var actions, setpoints, history, created string
		if err := rows.Scan(&rec.RunID, &rec.StateID, &rec.SearchID, &rec.Status, &rec.StopState, &rec.Depth,
			&root, &best, &functional, &virtual, &bestLeaf,
			&actions, &setpoints, &history, &rec.LeavesEvaluated, &errText, &created); err != nil {
			return nil, fmt.Errorf("scan perimeter result: %w", err)
		}
		rec.RootCost = floatOrNaN(root)
		rec.BestCost = floatOrNaN(best)
		rec.FunctionalCost = floatOrNaN(functional)
		rec.VirtualCost = floatOrNaN(virtual)
		rec.BestLeaf = bestLeaf.String
		rec.Error = errText.String
		if err := json.Unmarshal([]byte(actions), &rec.NetworkActions); err != nil {
			return nil, fmt.Errorf("unmarshal network actions: %w", err)
		}
		if err := json.Unmarshal([]byte(setpoints), &rec.Setpoints); err != nil {
			return nil, fmt.Errorf("unmarshal setpoints: %w", err)
		}
		if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
			return nil, fmt.Errorf("unmarshal history: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeFormat, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// #endregion perimeter-results

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullIfNotFinite(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// #endregion helpers
