package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/imaging"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <src> <dst>",
	Short: "Normalize a face photo the way the pipeline does",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := imaging.NormalizeFile(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[1])
		return nil
	},
}
