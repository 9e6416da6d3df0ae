package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/app"
	"github.com/fpang/guest-avatar/internal/cli"
	"github.com/fpang/guest-avatar/internal/logging"
	"github.com/fpang/guest-avatar/internal/pipeline"
)

var (
	forceFlag bool
	yesFlag   bool
	allFlag   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate (rows... | --all)",
	Short: "Generate avatar videos for the selected guests",
	Args:  cobra.ArbitraryArgs,
	RunE:  runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&forceFlag, "force", false, "Regenerate guests that already have a video")
	generateCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt")
	generateCmd.Flags().BoolVar(&allFlag, "all", false, "Process every guest in the sheet")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	rows, err := cli.ParseRows(args)
	if err != nil {
		return err
	}
	if err := cli.CheckSelection(rows, allFlag); err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if forceFlag {
		cfg.Batch.Force = true
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Extras{})
	if err != nil {
		return err
	}
	a.Describe(logging.NewStartupLogger("avatar-cli").CommitHash(commitHash).InitDuration(time.Since(initStart))).Log()

	if err := a.LipSync.Ready(); err != nil {
		log.Warn().Err(err).Msg("Lip-sync model not ready, every guest will fail")
	}
	if allFlag && cfg.Batch.Force && !yesFlag &&
		!cli.Confirm(os.Stdin, cmd.OutOrStdout(), "Regenerate videos for every guest?") {
		return fmt.Errorf("aborted")
	}

	unlock, err := a.Workspace.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if allFlag {
		if rows, err = allRows(ctx, a.Store); err != nil {
			return err
		}
	}

	summary, err := a.Coordinator.RunBatch(ctx, rows)
	if err != nil {
		return err
	}
	printVideoSummary(cmd, summary)
	return nil
}

func printVideoSummary(cmd *cobra.Command, s *pipeline.Summary) {
	rows := make([][]string, 0, len(s.Results))
	for _, r := range s.Results {
		outcome := r.Status
		if outcome == "" {
			outcome = string(r.Kind)
		}
		detail := r.Artifact
		if !r.Success && r.Message != "" {
			detail = r.Message
		}
		if r.WriteBackError != "" {
			detail += " (write-back failed)"
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Row),
			r.Name,
			outcome,
			r.AudioSource,
			cli.FormatElapsed(r.Duration),
			cli.Truncate(detail, 80),
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.RenderTable(
		[]string{"Row", "Guest", "Outcome", "Audio", "Time", "Detail"},
		rows,
		[]cli.Align{cli.AlignRight, cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
	))
	fmt.Fprintf(out, "Batch %s: %d of %d guests succeeded\n", s.BatchID, s.ProcessedCount, s.Total)
	if len(s.Unknown) > 0 {
		fmt.Fprintf(out, "Unknown rows skipped: %v\n", s.Unknown)
	}
}
