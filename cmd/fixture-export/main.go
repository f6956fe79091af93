package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/danielpatrickdp/grid-rao/internal/replay"
	"github.com/danielpatrickdp/grid-rao/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the result database")
	runID := flag.String("run", "", "run to export; the most recent run when empty")
	basePath := flag.String("base", "", "fixture whose case the run optimized; only expectations are written when empty")
	outPath := flag.String("out", "", "output fixture JSON path")
	flag.Parse()

	if *dbPath == "" || *outPath == "" {
		fmt.Fprintln(os.Stderr, "usage: fixture-export --db path/to/db --out path/to/fixture.json [--run id] [--base case.json]")
		os.Exit(2)
	}

	if err := run(*dbPath, *runID, *basePath, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region extract

func run(dbPath, runID, basePath, outPath string) error {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer s.Close()

	r, err := findRun(s, runID)
	if err != nil {
		return err
	}
	if r.Status == store.RunRunning {
		return fmt.Errorf("run %s is still running", r.RunID)
	}

	records, err := s.ListPerimeterResults(r.RunID)
	if err != nil {
		return fmt.Errorf("list perimeter results: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("run %s has no perimeter results", r.RunID)
	}
	fmt.Printf("Found run %s (%s, %s) with %d perimeters\n", r.RunID, r.CaseID, r.Status, len(records))

	expected := buildExpected(r, records)
	if basePath == "" {
		return writeJSON(expected, outPath, len(expected.Perimeters))
	}

	f, err := replay.LoadFixture(basePath)
	if err != nil {
		return err
	}
	if f.CaseID != "" && f.CaseID != r.CaseID {
		return fmt.Errorf("base fixture is case %s but run %s optimized %s", f.CaseID, r.RunID, r.CaseID)
	}
	f.Expected = expected
	if f.Description == "" {
		f.Description = fmt.Sprintf("Export of run %s", r.RunID)
	}
	return writeJSON(f, outPath, len(expected.Perimeters))
}

func findRun(s *store.Store, runID string) (store.RunRecord, error) {
	if runID != "" {
		return s.GetRun(runID)
	}
	runs, err := s.ListRuns(1)
	if err != nil {
		return store.RunRecord{}, fmt.Errorf("list runs: %w", err)
	}
	if len(runs) == 0 {
		return store.RunRecord{}, fmt.Errorf("no runs in database")
	}
	return runs[0], nil
}

// #endregion extract

// #region output

func buildExpected(r store.RunRecord, records []store.PerimeterRecord) replay.FixtureExpected {
	expected := replay.FixtureExpected{Status: string(r.Status)}
	for _, rec := range records {
		p := replay.FixtureExpectedPerimeter{
			State:          rec.StateID,
			Status:         rec.Status,
			NetworkActions: rec.NetworkActions,
		}
		if p.NetworkActions == nil {
			p.NetworkActions = []string{}
		}
		if !math.IsNaN(rec.BestCost) && !math.IsInf(rec.BestCost, 0) {
			cost := rec.BestCost
			p.Cost = &cost
		}
		if len(rec.Setpoints) > 0 {
			p.Setpoints = rec.Setpoints
		}
		expected.Perimeters = append(expected.Perimeters, p)
	}
	return expected
}

func writeJSON(v interface{}, outPath string, perimeters int) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}

	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", outPath, err)
	}

	fmt.Printf("Wrote fixture to %s (%d bytes, %d perimeters)\n", outPath, len(data), perimeters)
	return nil
}

// #endregion output
