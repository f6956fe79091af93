package graph

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS country_boundaries (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    country_a   TEXT NOT NULL,
    country_b   TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    UNIQUE(country_a, country_b)
);
CREATE INDEX IF NOT EXISTS idx_boundaries_a ON country_boundaries(country_a);
CREATE INDEX IF NOT EXISTS idx_boundaries_b ON country_boundaries(country_b);
`

// #endregion schema

// #region types
// Boundary is an undirected border between two countries' grids.
// CountryA always sorts before CountryB.
type Boundary struct {
	ID        int64
	CountryA  string
	CountryB  string
	CreatedAt time.Time
}

// BoundaryStore manages the country_boundaries table.
type BoundaryStore struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewBoundaryStore creates tables and returns a BoundaryStore.
func NewBoundaryStore(db *sql.DB) (*BoundaryStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &BoundaryStore{db: db}, nil
}

// #endregion constructor

// #region add-boundary
// AddBoundary inserts the border between a and b. Existing borders and self loops are ignored.
func (g *BoundaryStore) AddBoundary(a, b string) error {
	if a == b {
		return nil
	}
	if b < a {
		a, b = b, a
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := g.db.Exec(
		`INSERT OR IGNORE INTO country_boundaries (country_a, country_b, created_at)
		 VALUES (?, ?, ?)`,
		a, b, now,
	)
	return err
}

// #endregion add-boundary

// #region boundaries
// Boundaries returns every stored border ordered by country pair.
func (g *BoundaryStore) Boundaries() ([]Boundary, error) {
	rows, err := g.db.Query(
		`SELECT id, country_a, country_b, created_at
		 FROM country_boundaries
		 ORDER BY country_a, country_b`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Boundary
	for rows.Next() {
		var b Boundary
		var createdAt string
		if err := rows.Scan(&b.ID, &b.CountryA, &b.CountryB, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// LoadGraph builds the in-memory graph of all stored borders.
func (g *BoundaryStore) LoadGraph() (*CountryGraph, error) {
	bs, err := g.Boundaries()
	if err != nil {
		return nil, fmt.Errorf("load boundaries: %w", err)
	}
	return NewCountryGraph(bs), nil
}

// #endregion boundaries

// #region sever
// SeverCountry deletes every border of country.
func (g *BoundaryStore) SeverCountry(country string) error {
	_, err := g.db.Exec(
		`DELETE FROM country_boundaries WHERE country_a = ? OR country_b = ?`,
		country, country,
	)
	return err
}

// #endregion sever

// #region country-graph
// CountryGraph answers boundary-count distances between countries. It is read-only
// once built and safe for concurrent use.
type CountryGraph struct {
	adjacency map[string][]string
}

// NewCountryGraph indexes boundaries in both directions.
func NewCountryGraph(boundaries []Boundary) *CountryGraph {
	g := &CountryGraph{adjacency: make(map[string][]string)}
	for _, b := range boundaries {
		g.adjacency[b.CountryA] = append(g.adjacency[b.CountryA], b.CountryB)
		g.adjacency[b.CountryB] = append(g.adjacency[b.CountryB], b.CountryA)
	}
	for c := range g.adjacency {
		sort.Strings(g.adjacency[c])
	}
	return g
}

// Neighbors returns the countries sharing a border with c.
func (g *CountryGraph) Neighbors(c string) []string {
	return g.adjacency[c]
}

// Distance is the number of borders crossed between a and b. ok is false when b
// cannot be reached from a.
func (g *CountryGraph) Distance(a, b string) (int, bool) {
	if a == b {
		return 0, true
	}
	type queueItem struct {
		country string
		depth   int
	}
	visited := map[string]bool{a: true}
	queue := []queueItem{{a, 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range g.adjacency[current.country] {
			if visited[next] {
				continue
			}
			if next == b {
				return current.depth + 1, true
			}
			visited[next] = true
			queue = append(queue, queueItem{next, current.depth + 1})
		}
	}
	return 0, false
}

// MinDistance is the smallest Distance between any country of as and any of bs.
func (g *CountryGraph) MinDistance(as, bs []string) (int, bool) {
	best, found := 0, false
	for _, a := range as {
		for _, b := range bs {
			d, ok := g.Distance(a, b)
			if ok && (!found || d < best) {
				best, found = d, true
			}
		}
	}
	return best, found
}

// #endregion country-graph
