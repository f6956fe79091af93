package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/danielpatrickdp/grid-rao/internal/logging"
	"github.com/danielpatrickdp/grid-rao/internal/store"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to the result database")
	last := flag.Int("last", 20, "show N most recent runs")
	runID := flag.String("run", "", "show perimeter results of one run")
	leaves := flag.Bool("leaves", false, "with --run, also print the leaf log")
	state := flag.String("state", "", "with --run, only show this state")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/rao.db [--last N] [--run id [--leaves] [--state id]] [--json]")
		os.Exit(2)
	}

	s, err := store.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer s.Close()

	if *runID != "" {
		err = runDetailMode(s, *runID, *state, *leaves, *jsonOut)
	} else {
		err = runListMode(s, *last, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region list-mode

type listRow struct {
	RunID      string `json:"run_id"`
	CaseID     string `json:"case_id"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Duration   string `json:"duration,omitempty"`
}

func runListMode(s *store.Store, last int, jsonOut bool) error {
	runs, err := s.ListRuns(last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stderr, "no runs found")
		return nil
	}

	// store returns DESC, reverse for chronological
	rows := make([]listRow, len(runs))
	for i, r := range runs {
		row := listRow{
			RunID:     r.RunID,
			CaseID:    r.CaseID,
			Status:    string(r.Status),
			StartedAt: r.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		if !r.FinishedAt.IsZero() {
			row.FinishedAt = r.FinishedAt.Format("2006-01-02T15:04:05Z")
			row.Duration = r.FinishedAt.Sub(r.StartedAt).String()
		}
		rows[len(runs)-1-i] = row
	}

	if jsonOut {
		return printJSON(rows)
	}
	fmt.Printf("%-12s  %-24s  %-9s  %-20s  %s\n", "Run", "Case", "Status", "Started", "Duration")
	fmt.Printf("%-12s+-%-24s+-%-9s+-%-20s+-%s\n",
		"------------", "------------------------", "---------", "--------------------", "--------")
	for _, r := range rows {
		duration := "-"
		if r.Duration != "" {
			duration = r.Duration
		}
		fmt.Printf("%-12s  %-24s  %-9s  %-20s  %s\n", shortID(r.RunID), r.CaseID, r.Status, r.StartedAt, duration)
	}
	return nil
}

// #endregion list-mode

// #region detail-mode

type perimeterRow struct {
	State           string               `json:"state"`
	SearchID        string               `json:"search_id"`
	Status          string               `json:"status"`
	StopState       string               `json:"stop_state"`
	Depth           int                  `json:"depth"`
	RootCost        *float64             `json:"root_cost,omitempty"`
	BestCost        *float64             `json:"best_cost,omitempty"`
	FunctionalCost  *float64             `json:"functional_cost,omitempty"`
	VirtualCost     *float64             `json:"virtual_cost,omitempty"`
	BestLeaf        string               `json:"best_leaf"`
	NetworkActions  []string             `json:"network_actions"`
	Setpoints       map[string]float64   `json:"setpoints"`
	History         []store.HistoryPoint `json:"history"`
	LeavesEvaluated int                  `json:"leaves_evaluated"`
	Error           string               `json:"error,omitempty"`
	Leaves          []leafRow            `json:"leaves,omitempty"`
}

type leafRow struct {
	Depth  int      `json:"depth"`
	Leaf   string   `json:"leaf"`
	Event  string   `json:"event"`
	Cost   *float64 `json:"cost,omitempty"`
	Detail string   `json:"detail,omitempty"`
}

type detailOutput struct {
	Run        listRow         `json:"run"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Perimeters []perimeterRow  `json:"perimeters"`
}

func runDetailMode(s *store.Store, runID, stateFilter string, withLeaves, jsonOut bool) error {
	run, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	records, err := s.ListPerimeterResults(runID)
	if err != nil {
		return err
	}

	out := detailOutput{Run: listRow{
		RunID:     run.RunID,
		CaseID:    run.CaseID,
		Status:    string(run.Status),
		StartedAt: run.StartedAt.Format("2006-01-02T15:04:05Z"),
	}}
	if !run.FinishedAt.IsZero() {
		out.Run.FinishedAt = run.FinishedAt.Format("2006-01-02T15:04:05Z")
		out.Run.Duration = run.FinishedAt.Sub(run.StartedAt).String()
	}
	if json.Valid([]byte(run.ParametersJSON)) {
		out.Parameters = json.RawMessage(run.ParametersJSON)
	}

	for _, rec := range records {
		if stateFilter != "" && rec.StateID != stateFilter {
			continue
		}
		row := perimeterRow{
			State:           rec.StateID,
			SearchID:        rec.SearchID,
			Status:          rec.Status,
			StopState:       rec.StopState,
			Depth:           rec.Depth,
			RootCost:        finite(rec.RootCost),
			BestCost:        finite(rec.BestCost),
			FunctionalCost:  finite(rec.FunctionalCost),
			VirtualCost:     finite(rec.VirtualCost),
			BestLeaf:        rec.BestLeaf,
			NetworkActions:  rec.NetworkActions,
			Setpoints:       rec.Setpoints,
			History:         rec.History,
			LeavesEvaluated: rec.LeavesEvaluated,
			Error:           rec.Error,
		}
		if withLeaves {
			entries, err := logging.ListLeafLog(s.DB(), rec.SearchID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				row.Leaves = append(row.Leaves, leafRow{
					Depth: e.Depth, Leaf: e.Leaf, Event: e.Event, Cost: finite(e.Cost), Detail: e.Detail,
				})
			}
		}
		out.Perimeters = append(out.Perimeters, row)
	}

	if jsonOut {
		return printJSON(out)
	}
	printDetail(out)
	return nil
}

func printDetail(out detailOutput) {
	fmt.Printf("Run:      %s\n", out.Run.RunID)
	fmt.Printf("Case:     %s\n", out.Run.CaseID)
	fmt.Printf("Status:   %s\n", out.Run.Status)
	fmt.Printf("Started:  %s\n", out.Run.StartedAt)
	if out.Run.FinishedAt != "" {
		fmt.Printf("Finished: %s (%s)\n", out.Run.FinishedAt, out.Run.Duration)
	}

	for _, p := range out.Perimeters {
		fmt.Printf("\n%s  [%s, %s, depth %d, %d leaves]\n", p.State, p.Status, p.StopState, p.Depth, p.LeavesEvaluated)
		fmt.Printf("  root cost:  %s\n", costString(p.RootCost))
		fmt.Printf("  best cost:  %s (functional %s, virtual %s)\n",
			costString(p.BestCost), costString(p.FunctionalCost), costString(p.VirtualCost))
		fmt.Printf("  best leaf:  %s\n", p.BestLeaf)
		if len(p.NetworkActions) > 0 {
			fmt.Printf("  network actions: %s\n", strings.Join(p.NetworkActions, ", "))
		}
		for id, sp := range p.Setpoints {
			fmt.Printf("  setpoint %-20s %10.3f\n", id, sp)
		}
		if p.Error != "" {
			fmt.Printf("  error: %s\n", p.Error)
		}
		if len(p.History) > 0 {
			fmt.Println("  history:")
			for _, h := range p.History {
				fmt.Printf("    depth %d  %10.3f  %s\n", h.Depth, h.Cost, h.Leaf)
			}
		}
		if len(p.Leaves) > 0 {
			fmt.Println("  leaves:")
			for _, l := range p.Leaves {
				line := fmt.Sprintf("    d%d  %-10s  %10s  %s", l.Depth, l.Event, costString(l.Cost), l.Leaf)
				if l.Detail != "" {
					line += "  (" + l.Detail + ")"
				}
				fmt.Println(line)
			}
		}
	}
}

// #endregion detail-mode

// #region helpers

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func costString(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
