package logging

import "time"

// #region leaf-log-entry
// LeafLogEntry is a single row in the leaf_log table.
type LeafLogEntry struct {
	RunID    string
	SearchID string
	StateID  string
	Depth    int
	LeafID   string
	Leaf     string
	Event    string // "evaluated" | "optimized" | "failed" | "discarded" | "skipped" | "selected"

	// Costs are NaN for leaves that were never scored.
	Cost           float64
	FunctionalCost float64
	VirtualCost    float64

	Detail    string
	CreatedAt time.Time
}

// #endregion leaf-log-entry
