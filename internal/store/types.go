package store

import (
	"errors"
	"time"
)

var ErrRunNotFound = errors.New("run not found")

// #region run-record
// RunStatus is the lifecycle of one optimization run.
type RunStatus string

const (
	RunRunning  RunStatus = "RUNNING"
	RunSecure   RunStatus = "SECURE"
	RunUnsecure RunStatus = "UNSECURE"
	RunFailed   RunStatus = "FAILED"
)

// RunRecord is one optimization of one case.
type RunRecord struct {
	RunID          string
	CaseID         string
	Status         RunStatus
	ParametersJSON string
	StartedAt      time.Time
	FinishedAt     time.Time // zero while running
}

// #endregion run-record

// #region perimeter-record
// PerimeterRecord is the outcome of one perimeter search within a run.
type PerimeterRecord struct {
	RunID     string
	StateID   string
	SearchID  string
	Status    string
	StopState string
	Depth     int

	// Costs are NaN when the perimeter failed before scoring its root.
	RootCost       float64
	BestCost       float64
	FunctionalCost float64
	VirtualCost    float64

	BestLeaf        string
	NetworkActions  []string
	Setpoints       map[string]float64
	History         []HistoryPoint
	LeavesEvaluated int
	Error           string
	CreatedAt       time.Time
}

// HistoryPoint is the best cost after one depth.
type HistoryPoint struct {
	Depth int     `json:"depth"`
	Leaf  string  `json:"leaf"`
	Cost  float64 `json:"cost"`
}

// #endregion perimeter-record
