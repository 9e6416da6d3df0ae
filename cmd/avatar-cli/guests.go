package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/app"
	"github.com/fpang/guest-avatar/internal/cli"
	"github.com/fpang/guest-avatar/internal/guest"
)

var guestsCmd = &cobra.Command{
	Use:   "guests",
	Short: "List guests and their pipeline status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		records, err := store.Guests(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, cli.RenderTable(
			[]string{"Row", "Guest", "Relation", "Status", "Photo", "Audio", "Blessing", "Video"},
			guestRows(records),
			[]cli.Align{cli.AlignRight},
		))
		fmt.Fprintf(out, "%d guests\n", len(records))
		return nil
	},
}

func guestRows(records []guest.Record) [][]string {
	rows := make([][]string, 0, len(records))
	for _, r := range records {
		rows = append(rows, []string{
			strconv.Itoa(r.Row),
			r.Name,
			r.Relation,
			r.Status,
			mark(r.PhotoURL != ""),
			mark(r.AudioURL != ""),
			cli.Truncate(r.Blessing, 24),
			cli.Truncate(r.VideoURL, 40),
		})
	}
	return rows
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return "-"
}
