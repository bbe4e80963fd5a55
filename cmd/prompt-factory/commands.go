package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/prompt-factory/internal/domain"
	"github.com/hochfrequenz/prompt-factory/internal/events"
	"github.com/hochfrequenz/prompt-factory/internal/maintenance"
	"github.com/hochfrequenz/prompt-factory/tui"
)

var (
	runPromptType  string
	runModel       string
	runMaxParallel int
	runSequential  bool
	runNoStream    bool
	runTUI         bool
	historyClear   bool
	historyDelete  string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run DESCRIPTION",
		Short: "Generate a prompt suite for a system description",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runPromptType, "type", "", "prompt type hint for the analyzer")
	runCmd.Flags().StringVar(&runModel, "model", "", "override the configured model")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "number of roles processed at once")
	runCmd.Flags().BoolVar(&runSequential, "sequential", false, "process roles one at a time")
	runCmd.Flags().BoolVar(&runNoStream, "no-stream", false, "disable streamed agent output")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "follow the run in the dashboard")
	rootCmd.AddCommand(runCmd)

	// resume command
	resumeCmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume an interrupted run from its checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	resumeCmd.Flags().BoolVar(&runSequential, "sequential", false, "process roles one at a time")
	resumeCmd.Flags().BoolVar(&runTUI, "tui", false, "follow the run in the dashboard")
	rootCmd.AddCommand(resumeCmd)

	// incomplete command
	incompleteCmd := &cobra.Command{
		Use:   "incomplete",
		Short: "List runs that can be resumed",
		RunE:  runIncomplete,
	}
	rootCmd.AddCommand(incompleteCmd)

	// suites command
	suitesCmd := &cobra.Command{
		Use:   "suites",
		Short: "List saved prompt suites",
		RunE:  runSuites,
	}
	rootCmd.AddCommand(suitesCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show completed runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete every history record")
	historyCmd.Flags().StringVar(&historyDelete, "delete", "", "delete one history record by id")
	rootCmd.AddCommand(historyCmd)

	// prune command
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove stale checkpoints and trim history now",
		RunE:  runPrune,
	}
	rootCmd.AddCommand(pruneCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	model := runModel
	if model == "" {
		model = a.cfg.LLM.Model
	}
	maxParallel := runMaxParallel
	if maxParallel == 0 {
		maxParallel = a.cfg.Pipeline.MaxParallel
	}
	req := domain.RunRequest{
		Description: strings.Join(args, " "),
		PromptType:  runPromptType,
		Model:       model,
		Stream:      a.cfg.LLM.Stream && !runNoStream,
		Parallel:    a.cfg.Pipeline.Parallel && !runSequential,
		MaxParallel: maxParallel,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	id, err := a.pipeline.Launch(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Started run %s\n", id)
	return a.follow(cmd.Context(), id)
}

func runResume(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	id := args[0]
	parallel := a.cfg.Pipeline.Parallel && !runSequential
	if err := a.pipeline.Recover(cmd.Context(), id, parallel); err != nil {
		return fmt.Errorf("resume %s: %w", id, err)
	}
	fmt.Printf("Resuming run %s\n", id)
	return a.follow(cmd.Context(), id)
}

// follow shows a run until it ends, either in the dashboard or as log lines.
// An interrupt cancels the run.
func (a *app) follow(ctx context.Context, runID string) error {
	stream, err := a.pipeline.Events(runID)
	if err != nil {
		return err
	}

	if runTUI {
		outcome, err := tui.Run(tui.ModelConfig{
			RunID:      runID,
			Controller: a.pipeline,
			Stream:     stream,
			Stuck:      a.observer.IsStuck,
		})
		if err != nil {
			return err
		}
		if outcome == "" {
			// Dashboard closed while the run was live
			if err := a.pipeline.Cancel(runID); err != nil {
				a.logger.Warn("Failed to cancel run", "run_id", runID, "error", err)
			}
			waitDone(stream)
		}
		return a.report(runID)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = events.Drain(ctx, stream, 0, events.DefaultHeartbeat, func(ev domain.ProgressEvent) error {
		printEvent(os.Stdout, ev)
		return nil
	})
	if ctx.Err() != nil {
		fmt.Println("Interrupted, cancelling run...")
		if err := a.pipeline.Cancel(runID); err != nil {
			a.logger.Warn("Failed to cancel run", "run_id", runID, "error", err)
		}
		waitDone(stream)
		return a.report(runID)
	}
	if err != nil {
		return err
	}
	return a.report(runID)
}

// waitDone blocks until the stream has its terminal event.
func waitDone(stream *events.Stream) {
	_ = events.Drain(context.Background(), stream, stream.Len(), time.Minute, func(domain.ProgressEvent) error {
		return nil
	})
}

func (a *app) report(runID string) error {
	st, err := a.pipeline.State(runID)
	if err != nil {
		return err
	}

	switch st.Status {
	case domain.RunCompleted:
		fmt.Printf("\nCompleted %d/%d roles", st.CompletedRoles(), len(st.Roles))
		if st.ResultDir != "" {
			fmt.Printf(", saved to %s", st.ResultDir)
		}
		fmt.Println()
		return nil
	case domain.RunCancelled:
		fmt.Printf("\nRun cancelled after %d roles\n", st.CompletedRoles())
		return nil
	case domain.RunError:
		fmt.Printf("\nRun failed. Resume with: prompt-factory resume %s\n", runID)
		return fmt.Errorf("run %s failed: %s", runID, st.Error)
	default:
		return nil
	}
}

func printEvent(w io.Writer, ev domain.ProgressEvent) {
	p := ev.Payload
	switch ev.Kind {
	case domain.EventAgentOutput:
		fmt.Fprint(w, p["chunk"])
	case domain.EventStageChanged:
		fmt.Fprintf(w, "\n== %v\n", p["name"])
	case domain.EventAgentStarted:
		fmt.Fprintf(w, "%v started\n", p["agent"])
	case domain.EventAgentCompleted:
		if ok, _ := p["success"].(bool); !ok {
			fmt.Fprintf(w, "\n%v failed\n", p["agent"])
			return
		}
		fmt.Fprintf(w, "\n%v completed\n", p["agent"])
	case domain.EventRoleStatus:
		switch p["status"] {
		case string(domain.RoleCompleted):
			fmt.Fprintf(w, "  %v completed (score %v, %v iterations)\n", p["role_name"], p["score"], p["iterations"])
		case string(domain.RoleError):
			fmt.Fprintf(w, "  %v failed: %v\n", p["role_name"], p["error"])
		default:
			fmt.Fprintf(w, "  %v %v\n", p["role_name"], p["status"])
		}
	case domain.EventSuiteSaved:
		fmt.Fprintf(w, "Suite saved to %v\n", p["path"])
	case domain.EventRunError:
		fmt.Fprintf(w, "Run failed: %v\n", p["error"])
	case domain.EventRunPaused, domain.EventRunResumed:
		fmt.Fprintln(w, ev.Kind)
	}
}

func runIncomplete(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.ListCheckpoints(true)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No incomplete runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTATUS\tSTAGE\tROLES\tUPDATED\tDESCRIPTION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			r.RunID, r.Status, r.Stage, r.CompletedRoles, r.TotalRoles,
			humanize.Time(r.UpdatedAt), truncate(r.Description, 50))
	}
	return w.Flush()
}

func runSuites(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	list, err := a.writer.List()
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Printf("No suites in %s\n", a.writer.Root())
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSYSTEM\tROLES\tSCORE\tSAVED")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%s\n",
			s.Name, s.SystemName, s.RolesCount, s.AverageScore, humanize.Time(s.SavedAt))
	}
	return w.Flush()
}

func runHistory(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch {
	case historyClear:
		if err := st.ClearHistory(); err != nil {
			return err
		}
		fmt.Println("History cleared")
		return nil
	case historyDelete != "":
		found, err := st.DeleteHistory(historyDelete)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("history record %s not found", historyDelete)
		}
		fmt.Printf("Deleted %s\n", historyDelete)
		return nil
	}

	recs, err := st.ListHistory()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYSTEM\tMODEL\tROLES\tSCORE\tWHEN")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.1f\t%s\n",
			r.ID, r.SystemName, r.Model, r.TotalRoles, r.AverageScore, humanize.Time(r.CreatedAt))
	}
	return w.Flush()
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := maintenance.NewJob(maintenanceConfig(cfg), st, nil, maintenance.WithLogger(newLogger(cfg.General.LogLevel)))
	if err != nil {
		return err
	}
	report, err := job.RunOnce()
	if err != nil {
		return err
	}
	fmt.Printf("Removed %s checkpoints and %s history records\n",
		humanize.Comma(int64(report.Checkpoints)), humanize.Comma(int64(report.History)))
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
