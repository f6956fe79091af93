package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/grid-rao/internal/eval"
	"github.com/danielpatrickdp/grid-rao/internal/orchestrator"
	"github.com/danielpatrickdp/grid-rao/internal/replay"
	"github.com/danielpatrickdp/grid-rao/internal/searchtree"
	"github.com/danielpatrickdp/grid-rao/internal/sensitivity"
	"github.com/danielpatrickdp/grid-rao/internal/store"
	"github.com/danielpatrickdp/grid-rao/internal/treeparams"
)

var (
	runFixture    string
	runParams     string
	runDB         string
	runTrace      bool
	runRemote     string
	runPreventive bool
	runJSON       bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Optimize the case described by a fixture file",
		RunE:  runOptimization,
	}
)

func init() {
	runCmd.Flags().StringVar(&runFixture, "fixture", "", "case fixture JSON (required)")
	runCmd.Flags().StringVar(&runParams, "params", "", "parameters YAML; replaces the fixture's parameters")
	runCmd.Flags().StringVar(&runDB, "db", "", "SQLite result database; results are not stored when empty")
	runCmd.Flags().BoolVar(&runTrace, "trace", false, "export spans to stderr")
	runCmd.Flags().StringVar(&runRemote, "remote", "", "address of a sensitivity server; the fixture network is used when empty")
	runCmd.Flags().BoolVar(&runPreventive, "preventive-only", false, "skip curative perimeters")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the result as JSON")
	_ = runCmd.MarkFlagRequired("fixture")
}

func runOptimization(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	f, err := replay.LoadFixture(runFixture)
	if err != nil {
		return err
	}
	c, params, err := f.Build()
	if err != nil {
		return err
	}
	if runParams != "" {
		if params, err = treeparams.LoadParameters(runParams); err != nil {
			return err
		}
	}

	var provider sensitivity.Provider = sensitivity.NewLinearProvider()
	if runRemote != "" {
		remote, err := sensitivity.NewRemoteProvider(runRemote)
		if err != nil {
			return err
		}
		defer remote.Close()
		provider = remote
		c.Network = sensitivity.NewRemoteNetwork(c.Network.Setpoints())
	}

	tp, shutdown, err := newTracerProvider(runTrace, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			slog.Warn("trace shutdown failed", slog.Any("error", err))
		}
	}()

	opts := []orchestrator.Option{
		orchestrator.WithLogger(slog.Default()),
		orchestrator.WithTracerProvider(tp),
	}
	if runPreventive {
		opts = append(opts, orchestrator.WithoutCurative())
	}
	if runDB != "" {
		s, err := store.NewStore(runDB)
		if err != nil {
			return err
		}
		defer s.Close()
		opts = append(opts, orchestrator.WithStore(s))
	}

	res, err := orchestrator.NewOrchestrator(provider, opts...).Run(ctx, c, params)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), res, params, c)
}

// #region output
type perimeterJSON struct {
	State          string             `json:"state"`
	Status         string             `json:"status"`
	StopState      string             `json:"stop_state"`
	Depth          int                `json:"depth"`
	Cost           *float64           `json:"cost,omitempty"`
	NetworkActions []string           `json:"network_actions"`
	Setpoints      map[string]float64 `json:"setpoints,omitempty"`
	Leaves         int                `json:"leaves_evaluated"`
	Eval           string             `json:"eval"`
	Error          string             `json:"error,omitempty"`
}

type resultJSON struct {
	RunID      string          `json:"run_id"`
	CaseID     string          `json:"case_id"`
	Status     string          `json:"status"`
	Perimeters []perimeterJSON `json:"perimeters"`
}

func printResult(w io.Writer, res *orchestrator.RaoResult, params treeparams.Parameters, c orchestrator.Case) error {
	harness := eval.NewEvalHarness(eval.DefaultEvalConfig())
	out := resultJSON{RunID: res.RunID, CaseID: c.ID, Status: string(res.Status)}
	for _, r := range res.Perimeters() {
		limits := params.UsageLimits.ForState(r.State)
		if !r.State.IsPreventive() {
			limits = limits.Remaining(c.Crac.ForcedNetworkActions(r.State))
		}
		out.Perimeters = append(out.Perimeters, perimeterOf(r, harness.Run(r, limits)))
	}

	if runJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "Run %s (%s): %s\n\n", out.RunID, out.CaseID, out.Status)
	fmt.Fprintf(w, "%-24s  %-9s  %-16s  %5s  %10s  %6s  %s\n",
		"State", "Status", "Stop", "Depth", "Cost", "Leaves", "Network actions")
	for _, p := range out.Perimeters {
		cost := "-"
		if p.Cost != nil {
			cost = fmt.Sprintf("%.3f", *p.Cost)
		}
		fmt.Fprintf(w, "%-24s  %-9s  %-16s  %5d  %10s  %6d  %v\n",
			p.State, p.Status, p.StopState, p.Depth, cost, p.Leaves, p.NetworkActions)
		for id, sp := range p.Setpoints {
			fmt.Fprintf(w, "%-24s  setpoint %s = %.3f\n", "", id, sp)
		}
		if p.Error != "" {
			fmt.Fprintf(w, "%-24s  error: %s\n", "", p.Error)
		}
		if p.Eval != "all checks passed" {
			fmt.Fprintf(w, "%-24s  %s\n", "", p.Eval)
		}
	}
	return nil
}

func perimeterOf(r *searchtree.Result, ev eval.EvalResult) perimeterJSON {
	p := perimeterJSON{
		State:          r.State.ID(),
		Status:         string(r.Status),
		StopState:      string(r.StopState),
		Depth:          r.Depth(),
		NetworkActions: []string{},
		Leaves:         r.LeavesEvaluated,
		Eval:           ev.Reason,
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	if r.Best == nil {
		return p
	}
	if cost := r.Best.Cost(); !math.IsInf(cost, 0) && !math.IsNaN(cost) {
		p.Cost = &cost
	}
	for _, na := range r.Best.ActivatedNetworkActions() {
		p.NetworkActions = append(p.NetworkActions, na.ID)
	}
	if ras := r.Best.ActivatedRangeActions(); len(ras) > 0 {
		p.Setpoints = make(map[string]float64, len(ras))
		for _, ra := range ras {
			p.Setpoints[ra.ID] = r.Best.Setpoint(ra)
		}
	}
	return p
}

// #endregion output
