package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tenderzen/smart-import/internal/models"
	"tenderzen/smart-import/internal/smartimport"
)

var (
	runTenant   string
	runPro      bool
	runAugment  []string
	runFinalize bool
	runName     string
	runJSON     bool
	runTimeout  time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [files...]",
	Short: "Upload documents and wait for the extraction",
	Long: `Stages the given files, submits them for analysis and waits for the result.
With --pro the result is re-analyzed with the pro tier, --augment adds documents
to the completed extraction and --finalize creates the tender.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTenant, "tenant", "", "tenderbureau id (uuid)")
	runCmd.Flags().BoolVar(&runPro, "pro", false, "re-analyze with the pro tier once the first result is ready")
	runCmd.Flags().StringSliceVar(&runAugment, "augment", nil, "additional documents merged into the result, one at a time")
	runCmd.Flags().BoolVar(&runFinalize, "finalize", false, "create the tender from the reviewed result")
	runCmd.Flags().StringVar(&runName, "name", "", "tender name used when finalizing")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final snapshot as JSON")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "give up polling after this long (default from IMPORT_POLL_TIMEOUT)")
	_ = runCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	eng, err := newEngine(runTimeout)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl := eng.ctrl
	events, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	candidates, err := fileCandidates(args)
	if err != nil {
		return err
	}
	report, err := ctrl.StageFiles(candidates)
	if err != nil {
		return err
	}
	printRejections(cmd, report)

	if err := ctrl.Submit(ctx, runTenant); err != nil {
		return fmt.Errorf("submit failed: %w", err)
	}
	snap, err := waitSettled(ctx, cmd, ctrl, events)
	if err != nil {
		return err
	}
	if snap.State != smartimport.StateReviewReady {
		return fmt.Errorf("analysis ended in state %s: %s", snap.State, snap.LastError)
	}

	if runPro {
		if err := ctrl.Reanalyze(ctx); err != nil {
			return fmt.Errorf("reanalyze failed: %w", err)
		}
		if snap, err = waitSettled(ctx, cmd, ctrl, events); err != nil {
			return err
		}
		if snap.LastError != "" {
			cmd.PrintErrf("Reanalysis failed, keeping the previous result: %s\n", snap.LastError)
			if err := ctrl.Dismiss(); err != nil {
				return err
			}
		}
	}

	for _, path := range runAugment {
		extra, err := fileCandidates([]string{path})
		if err != nil {
			return err
		}
		report, err := ctrl.AddDocuments(ctx, extra)
		if err != nil {
			cmd.PrintErrf("Could not add %s: %v\n", filepath.Base(path), err)
			continue
		}
		printRejections(cmd, report)
		if len(report.Documents) == 0 {
			continue
		}
		if snap, err = waitSettled(ctx, cmd, ctrl, events); err != nil {
			return err
		}
	}

	snap = ctrl.Snapshot()
	if runJSON {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		cmd.Println(string(data))
	} else {
		printResult(cmd, snap)
	}

	if runFinalize {
		options := map[string]any{}
		if runName != "" {
			options["naam"] = runName
		}
		resp, err := ctrl.Finalize(ctx, options)
		if err != nil {
			return fmt.Errorf("finalize failed: %w", err)
		}
		if resp.Tender != nil {
			cmd.Printf("Tender %s created with %d documents\n", resp.Tender.ID, resp.DocumentsLinked)
		}
	}
	return nil
}

// waitSettled returns once no job of the session is in flight.
func waitSettled(ctx context.Context, cmd *cobra.Command, ctrl *smartimport.JobController, events <-chan smartimport.Event) (smartimport.Snapshot, error) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		snap := ctrl.Snapshot()
		if settled(snap) {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			_ = ctrl.Cancel(context.Background())
			return ctrl.Snapshot(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctrl.Snapshot(), errors.New("session closed")
			}
			printEvent(cmd, ev)
		case <-ticker.C:
		}
	}
}

func settled(s smartimport.Snapshot) bool {
	if s.SubJob != nil {
		return false
	}
	switch s.State {
	case smartimport.StateReviewReady, smartimport.StateFailed, smartimport.StateCancelled:
		return true
	}
	return false
}

func printEvent(cmd *cobra.Command, ev smartimport.Event) {
	switch ev.Kind {
	case smartimport.EventProgress:
		if ev.Job == nil {
			return
		}
		label := "analysis"
		if ev.Sub {
			label = "augmentation"
		}
		step := ""
		for _, s := range ev.Job.Steps {
			if s.Status == models.StepInProgress {
				step = s.Label
			}
		}
		cmd.PrintErrf("  %-12s %3d%% %s\n", label, ev.Job.Progress, step)
	case smartimport.EventMerged:
		if ev.Merge != nil {
			cmd.PrintErrf("  merged: %d filled, %d improved\n", len(ev.Merge.Filled), len(ev.Merge.Improved))
		}
	case smartimport.EventError:
		cmd.PrintErrf("  error: %s (%s)\n", ev.Error, ev.Recovery)
	case smartimport.EventState:
		cmd.PrintErrf("  state: %s\n", ev.State)
	}
}

func printRejections(cmd *cobra.Command, report smartimport.UploadReport) {
	for _, r := range report.Rejections {
		cmd.PrintErrf("Skipped %s: %s\n", r.Name, r.Reason)
	}
}

func printResult(cmd *cobra.Command, snap smartimport.Snapshot) {
	if snap.Result == nil {
		cmd.Println("No result.")
		return
	}
	st := snap.Stats
	cmd.Printf("Extracted %d of %d fields (high %d, medium %d, low %d)\n", st.Extracted, st.Total, st.High, st.Medium, st.Low)
	cmd.Println()

	for _, g := range models.FieldGroups {
		cmd.Printf("[%s]\n", g)
		fields := snap.Result.Groups[g]
		names := make([]string, 0, len(fields))
		for n := range fields {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			f := fields[n]
			if f.IsEmpty() {
				continue
			}
			cmd.Printf("  %-28s %v (%.2f)\n", n, f.Value, f.Confidence)
		}
	}

	if len(snap.Result.Criteria) > 0 {
		cmd.Println("[gunningscriteria]")
		for _, c := range snap.Result.Criteria {
			cmd.Printf("  %-6s %-40s %v%%\n", c.Code, c.Name, c.WeightPercent)
		}
	}
	for _, w := range snap.Result.Warnings {
		cmd.Printf("! %s\n", w)
	}
}

func fileCandidates(paths []string) ([]smartimport.FileCandidate, error) {
	out := make([]smartimport.FileCandidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		path := p
		out = append(out, smartimport.FileCandidate{
			Name: filepath.Base(path),
			Size: info.Size(),
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
	}
	return out, nil
}
