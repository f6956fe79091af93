package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/danielpatrickdp/grid-rao/internal/orchestrator"
	"github.com/danielpatrickdp/grid-rao/internal/replay"
	"github.com/danielpatrickdp/grid-rao/internal/store"
)

// #region main

func main() {
	fixturePath := flag.String("fixture", "", "fixture JSON file, or a directory of fixtures")
	dbPath := flag.String("db", "", "store replayed runs in this SQLite database")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *fixturePath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay --fixture path/to/fixture.json [--db results.db] [--json]")
		fmt.Fprintln(os.Stderr, "       replay --fixture path/to/testdata/")
		os.Exit(2)
	}

	os.Exit(run(*fixturePath, *dbPath, *jsonOut))
}

// #endregion main

// #region run

func run(fixturePath, dbPath string, jsonOut bool) int {
	paths, err := fixturePaths(fixturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "find fixtures: %v\n", err)
		return 2
	}
	if len(paths) == 0 {
		fmt.Fprintf(os.Stderr, "no fixtures found in %s\n", fixturePath)
		return 2
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	if dbPath != "" {
		s, err := store.NewStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open db: %v\n", err)
			return 2
		}
		defer s.Close()
		opts = append(opts, orchestrator.WithStore(s))
	}

	config := replay.DefaultReplayConfig()
	var results []*replay.ReplayResult
	for _, path := range paths {
		f, err := replay.LoadFixture(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load fixture: %v\n", err)
			return 2
		}
		res, err := replay.Replay(context.Background(), f, config, opts...)
		if err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", path, err)
			return 2
		}
		results = append(results, res)
	}

	summary := replay.Summarize(results)
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			Perimeters []perimeterRow       `json:"perimeters"`
			Summary    replay.ReplaySummary `json:"summary"`
		}{toRows(results), summary}); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			return 2
		}
	} else {
		printComparison(results, summary)
	}

	if summary.Failed > 0 {
		return 1
	}
	return 0
}

// fixturePaths expands a directory into its sorted *.json files.
func fixturePaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	paths, err := filepath.Glob(filepath.Join(path, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// #endregion run

// #region output

type perimeterRow struct {
	CaseID         string   `json:"case_id"`
	RunID          string   `json:"run_id"`
	State          string   `json:"state"`
	Status         string   `json:"status"`
	Cost           *float64 `json:"cost,omitempty"`
	NetworkActions []string `json:"network_actions"`
	EvalPassed     bool     `json:"eval_passed"`
	EvalReason     string   `json:"eval_reason"`
	Mismatches     []string `json:"mismatches,omitempty"`
}

// toRows flattens results; case-level mismatches go on the first perimeter.
func toRows(results []*replay.ReplayResult) []perimeterRow {
	var rows []perimeterRow
	for _, r := range results {
		for i, p := range r.Perimeters {
			row := perimeterRow{
				CaseID:         r.CaseID,
				RunID:          r.RunID,
				State:          p.StateID,
				Status:         string(p.Status),
				NetworkActions: p.NetworkActions,
				EvalPassed:     p.Eval.Passed,
				EvalReason:     p.Eval.Reason,
				Mismatches:     p.Mismatches,
			}
			if !math.IsNaN(p.Cost) && !math.IsInf(p.Cost, 0) {
				cost := p.Cost
				row.Cost = &cost
			}
			if i == 0 {
				row.Mismatches = append(append([]string(nil), r.Mismatches...), row.Mismatches...)
			}
			rows = append(rows, row)
		}
	}
	return rows
}

func printComparison(results []*replay.ReplayResult, summary replay.ReplaySummary) {
	fmt.Printf("%-24s| %-18s| %-9s| %10s| %-6s| %s\n", "Case", "State", "Status", "Cost", "Eval", "Match")
	fmt.Printf("%-24s+%-19s+%-10s+%11s+%-7s+%s\n",
		"------------------------", "-------------------", "----------", "-----------", "-------", "------")

	for _, r := range results {
		for _, p := range r.Perimeters {
			evalMark := "OK"
			if !p.Eval.Passed {
				evalMark = "FAIL"
			}
			match := "OK"
			if len(p.Mismatches) > 0 {
				match = "DIFF"
			}
			fmt.Printf("%-24s| %-18s| %-9s| %10.3f| %-6s| %s\n",
				r.CaseID, p.StateID, p.Status, p.Cost, evalMark, match)
			for _, m := range p.Mismatches {
				fmt.Printf("    %s\n", m)
			}
			if !p.Eval.Passed {
				fmt.Printf("    %s\n", p.Eval.Reason)
			}
		}
		for _, m := range r.Mismatches {
			fmt.Printf("%-24s| %s\n", r.CaseID, m)
		}
	}

	fmt.Printf("\nSummary: %d cases, %d pass, %d fail | %d perimeters: %d secure, %d unsecure, %d failed, %d eval failures\n",
		summary.TotalCases, summary.Passed, summary.Failed,
		summary.Perimeters, summary.Secure, summary.Unsecure, summary.FailedPerimeters, summary.EvalFailures)
}

// #endregion output
