package logging

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE leaf_log (
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
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-leaf-tests
func TestLogLeaf_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := LeafLogEntry{
		RunID:          "run-1",
		SearchID:       "search-1",
		StateID:        "preventive",
		Depth:          1,
		LeafID:         "leaf-1",
		Leaf:           "network action(s): open-parallel",
		Event:          "selected",
		Cost:           -20,
		FunctionalCost: -20,
		VirtualCost:    0,
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogLeaf(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries, err := ListLeafLog(db, "search-1")
	if err != nil {
		t.Fatalf("ListLeafLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	got := entries[0]
	if got.Event != "selected" || got.Depth != 1 || got.LeafID != "leaf-1" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Cost != -20 {
		t.Errorf("expected cost -20, got %f", got.Cost)
	}
	if !got.CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", entry.CreatedAt, got.CreatedAt)
	}
}

func TestLogLeaf_UnscoredLeafStoresNull(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := LeafLogEntry{
		RunID:          "run-1",
		SearchID:       "search-1",
		StateID:        "preventive",
		Leaf:           "network action(s): diverging",
		Event:          "failed",
		Cost:           math.Inf(1),
		FunctionalCost: math.Inf(1),
		VirtualCost:    math.NaN(),
		Detail:         "sensitivity computation failed",
	}
	if err := LogLeaf(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var cost sql.NullFloat64
	var leafID sql.NullString
	db.QueryRow("SELECT cost, leaf_id FROM leaf_log").Scan(&cost, &leafID)
	if cost.Valid {
		t.Error("expected NULL cost for an unscored leaf")
	}
	if leafID.Valid {
		t.Error("expected NULL leaf_id for empty string")
	}

	entries, _ := ListLeafLog(db, "search-1")
	if len(entries) != 1 || !math.IsNaN(entries[0].Cost) {
		t.Fatalf("expected NaN cost on read, got %+v", entries)
	}
}

func TestLogLeaf_ZeroCreatedAt(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogLeaf(db, LeafLogEntry{RunID: "r", SearchID: "s", StateID: "preventive", Leaf: "Root leaf", Event: "evaluated"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var createdAtStr string
	db.QueryRow("SELECT created_at FROM leaf_log").Scan(&createdAtStr)
	createdAt, err := time.Parse(time.RFC3339Nano, createdAtStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogLeaf_Error(t *testing.T) {
	db := setupDB(t)
	db.Close()

	if err := LogLeaf(db, LeafLogEntry{RunID: "r", SearchID: "s", Leaf: "Root leaf", Event: "evaluated"}); err == nil {
		t.Fatal("expected error on closed db")
	}
	if _, err := ListLeafLog(db, "s"); err == nil {
		t.Fatal("expected error on closed db")
	}
}

// #endregion log-leaf-tests

// #region recorder-tests
func TestRecorderWritesRunID(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	rec := NewRecorder(db, "run-7")
	err := rec.RecordLeaf(context.Background(), searchtree.LeafRecord{
		SearchID: "search-7",
		StateID:  "co1 - curative",
		Depth:    2,
		LeafID:   "leaf-7",
		Leaf:     "network action(s): a, b",
		Event:    searchtree.EventDiscarded,
		Cost:     12.5,
		Detail:   "not enough impact",
	})
	if err != nil {
		t.Fatalf("RecordLeaf: %v", err)
	}

	entries, err := ListLeafLog(db, "search-7")
	if err != nil {
		t.Fatalf("ListLeafLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].RunID != "run-7" || entries[0].Event != "discarded" || entries[0].StateID != "co1 - curative" {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestNullHelpers(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if nullIfEmpty("hello") != "hello" {
		t.Error("expected 'hello'")
	}
	if nullIfNotFinite(math.Inf(-1)) != nil {
		t.Error("expected nil for -Inf")
	}
	if nullIfNotFinite(1.5) != 1.5 {
		t.Error("expected 1.5")
	}
}

// #endregion recorder-tests
