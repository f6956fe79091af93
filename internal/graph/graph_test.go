package graph

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupStore(t *testing.T) *BoundaryStore {
	t.Helper()
	gs, err := NewBoundaryStore(setupTestDB(t))
	if err != nil {
		t.Fatalf("new boundary store: %v", err)
	}
	return gs
}

// #region test-add-boundary
func TestAddBoundary(t *testing.T) {
	gs := setupStore(t)

	if err := gs.AddBoundary("FR", "BE"); err != nil {
		t.Fatalf("add boundary: %v", err)
	}
	// Reversed duplicate and self loop are ignored
	if err := gs.AddBoundary("BE", "FR"); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	if err := gs.AddBoundary("DE", "DE"); err != nil {
		t.Fatalf("self loop: %v", err)
	}

	bs, err := gs.Boundaries()
	if err != nil {
		t.Fatalf("boundaries: %v", err)
	}
	if len(bs) != 1 {
		t.Fatalf("expected 1 boundary, got %d", len(bs))
	}
	if bs[0].CountryA != "BE" || bs[0].CountryB != "FR" {
		t.Errorf("unexpected boundary: %+v", bs[0])
	}
}

// #endregion test-add-boundary

// #region test-distance
func TestDistance(t *testing.T) {
	gs := setupStore(t)

	// FR - BE - NL - DE, plus FR - DE and an island ES - PT
	for _, pair := range [][2]string{{"FR", "BE"}, {"BE", "NL"}, {"NL", "DE"}, {"FR", "DE"}, {"ES", "PT"}} {
		if err := gs.AddBoundary(pair[0], pair[1]); err != nil {
			t.Fatalf("add %v: %v", pair, err)
		}
	}
	g, err := gs.LoadGraph()
	if err != nil {
		t.Fatalf("load graph: %v", err)
	}

	cases := []struct {
		a, b string
		want int
		ok   bool
	}{
		{"FR", "FR", 0, true},
		{"FR", "BE", 1, true},
		{"FR", "NL", 2, true},
		{"BE", "DE", 2, true},
		{"FR", "PT", 0, false},
		{"XX", "FR", 0, false},
	}
	for _, tc := range cases {
		got, ok := g.Distance(tc.a, tc.b)
		if ok != tc.ok || got != tc.want {
			t.Errorf("Distance(%s, %s) = %d, %v; want %d, %v", tc.a, tc.b, got, ok, tc.want, tc.ok)
		}
	}

	if d, ok := g.MinDistance([]string{"PT", "NL"}, []string{"FR", "ES"}); !ok || d != 1 {
		t.Errorf("MinDistance = %d, %v; want 1, true", d, ok)
	}
	if _, ok := g.MinDistance(nil, []string{"FR"}); ok {
		t.Error("empty set should have no distance")
	}
	if n := g.Neighbors("FR"); len(n) != 2 || n[0] != "BE" || n[1] != "DE" {
		t.Errorf("unexpected neighbors of FR: %v", n)
	}
}

// #endregion test-distance

// #region test-sever
func TestSeverCountry(t *testing.T) {
	gs := setupStore(t)

	gs.AddBoundary("FR", "BE")
	gs.AddBoundary("BE", "NL")
	gs.AddBoundary("NL", "DE")

	if err := gs.SeverCountry("BE"); err != nil {
		t.Fatalf("sever: %v", err)
	}
	bs, _ := gs.Boundaries()
	if len(bs) != 1 || bs[0].CountryA != "DE" {
		t.Fatalf("expected only DE-NL left, got %+v", bs)
	}

	g, _ := gs.LoadGraph()
	if _, ok := g.Distance("FR", "NL"); ok {
		t.Error("FR should be disconnected after severing BE")
	}
}

// #endregion test-sever
