package logging

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
)

// #region log-leaf
// LogLeaf writes a leaf event to the leaf_log table.
func LogLeaf(db *sql.DB, entry LeafLogEntry) error {
	return logLeaf(context.Background(), db, entry)
}

func logLeaf(ctx context.Context, db *sql.DB, entry LeafLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO leaf_log (run_id, search_id, state_id, depth, leaf_id, leaf, event, cost, functional_cost, virtual_cost, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.SearchID,
		entry.StateID,
		entry.Depth,
		nullIfEmpty(entry.LeafID),
		entry.Leaf,
		entry.Event,
		nullIfNotFinite(entry.Cost),
		nullIfNotFinite(entry.FunctionalCost),
		nullIfNotFinite(entry.VirtualCost),
		nullIfEmpty(entry.Detail),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log leaf: %w", err)
	}
	return nil
}

// #endregion log-leaf

// #region list-leaf-log
// ListLeafLog returns the events of one search in insertion order.
func ListLeafLog(db *sql.DB, searchID string) ([]LeafLogEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, search_id, state_id, depth, leaf_id, leaf, event, cost, functional_cost, virtual_cost, detail, created_at
		 FROM leaf_log WHERE search_id = ? ORDER BY id`, searchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list leaf log: %w", err)
	}
	defer rows.Close()

	var entries []LeafLogEntry
	for rows.Next() {
		var e LeafLogEntry
		var leafID, detail sql.NullString
		var cost, functional, virtual sql.NullFloat64
		var created string
		if err := rows.Scan(&e.RunID, &e.SearchID, &e.StateID, &e.Depth, &leafID, &e.Leaf, &e.Event,
			&cost, &functional, &virtual, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan leaf log: %w", err)
		}
		e.LeafID = leafID.String
		e.Detail = detail.String
		e.Cost = floatOrNaN(cost)
		e.FunctionalCost = floatOrNaN(functional)
		e.VirtualCost = floatOrNaN(virtual)
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion list-leaf-log

// #region recorder
// Recorder writes search tree leaf events of one run to the leaf log.
type Recorder struct {
	db    *sql.DB
	runID string
}

var _ searchtree.Recorder = (*Recorder)(nil)

func NewRecorder(db *sql.DB, runID string) *Recorder {
	return &Recorder{db: db, runID: runID}
}

func (r *Recorder) RecordLeaf(ctx context.Context, rec searchtree.LeafRecord) error {
	return logLeaf(ctx, r.db, LeafLogEntry{
		RunID:          r.runID,
		SearchID:       rec.SearchID,
		StateID:        rec.StateID,
		Depth:          rec.Depth,
		LeafID:         rec.LeafID,
		Leaf:           rec.Leaf,
		Event:          string(rec.Event),
		Cost:           rec.Cost,
		FunctionalCost: rec.FunctionalCost,
		VirtualCost:    rec.VirtualCost,
		Detail:         rec.Detail,
	})
}

// #endregion recorder

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

// #endregion helpers
