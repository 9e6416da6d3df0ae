package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/cli"
	"github.com/fpang/guest-avatar/internal/jobs"
	"github.com/fpang/guest-avatar/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history <batch-id>",
	Short: "Show the ledger of a past batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		started, err := jobs.ParseBatchID(args[0])
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Ledger.Table == "" {
			return errors.New("RUN_LEDGER_TABLE (ledger.table) is not set")
		}

		ctx := cmd.Context()
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.Publish.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.Publish.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}

		entries, err := store.NewDynamoLedger(dynamodb.NewFromConfig(awsCfg), cfg.Ledger.Table).Batch(ctx, args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return fmt.Errorf("no ledger entries for batch %s", args[0])
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Batch %s started %s\n", args[0], started.Local().Format(time.DateTime))
		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			detail := e.Artifact
			if !e.Success {
				detail = e.Message
			}
			rows = append(rows, []string{
				strconv.Itoa(e.Row),
				e.Name,
				e.Status,
				e.Kind,
				cli.FormatElapsed(time.Duration(e.DurationMs) * time.Millisecond),
				cli.Truncate(detail, 80),
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.RenderTable(
			[]string{"Row", "Guest", "Status", "Kind", "Time", "Detail"},
			rows,
			[]cli.Align{cli.AlignRight, cli.AlignLeft, cli.AlignLeft, cli.AlignLeft, cli.AlignRight},
		))
		return nil
	},
}
