package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/app"
	"github.com/fpang/guest-avatar/internal/blessing"
	"github.com/fpang/guest-avatar/internal/cli"
)

var blessingsAllFlag bool

func init() {
	blessingsCmd.Flags().BoolVar(&blessingsAllFlag, "all", false, "Draft blessings for every guest in the sheet")
}

var blessingsCmd = &cobra.Command{
	Use:   "blessings (rows... | --all)",
	Short: "Draft blessings with Gemini for the selected guests",
	Args:  cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, err := cli.ParseRows(args)
		if err != nil {
			return err
		}
		if err := cli.CheckSelection(rows, blessingsAllFlag); err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireSpeech(); err != nil {
			return err
		}

		ctx := cmd.Context()
		guests, err := app.OpenStore(ctx, cfg)
		if err != nil {
			return err
		}
		gen, err := blessing.NewGemini(ctx, cfg.Speech.APIKey, blessing.GeminiOptions{
			Model:   cfg.Speech.TextModel,
			Timeout: cfg.SpeechTimeout(),
		})
		if err != nil {
			return err
		}

		if blessingsAllFlag {
			if rows, err = allRows(ctx, guests); err != nil {
				return err
			}
		}
		summary, err := blessing.NewWriter(guests, gen).RunBatch(ctx, rows)
		if err != nil {
			return err
		}

		table := make([][]string, 0, len(summary.Results))
		for _, r := range summary.Results {
			text := r.Blessing
			if !r.Success {
				text = r.Message
			}
			table = append(table, []string{strconv.Itoa(r.Row), r.Name, r.Status, cli.Truncate(text, 60)})
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.RenderTable([]string{"Row", "Guest", "Status", "Blessing"}, table, []cli.Align{cli.AlignRight}))
		fmt.Fprintf(out, "%d of %d blessings written\n", summary.ProcessedCount, len(summary.Results))
		return nil
	},
}
