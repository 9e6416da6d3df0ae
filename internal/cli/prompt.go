// Package cli holds small helpers shared by the command-line binaries:
// row selection parsing, confirmation prompts and table rendering.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoSelection is returned when a batch command gets neither rows nor --all.
var ErrNoSelection = errors.New("no guests selected: pass row numbers or --all")

// CheckSelection requires exactly one of explicit rows or the --all flag.
func CheckSelection(rows []int, all bool) error {
	switch {
	case len(rows) > 0 && all:
		return errors.New("pass row numbers or --all, not both")
	case len(rows) == 0 && !all:
		return ErrNoSelection
	}
	return nil
}

// Confirm asks a yes/no question on out and reads the answer from in.
// Anything other than y or yes is a no.
func Confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)

	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && input == "" {
		log.Warn().Err(err).Msg("Failed to read confirmation, assuming no")
		return false
	}
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// ParseRows parses guest row selections such as "0,2,5-7". Arguments may
// each hold a list. Duplicates are dropped; first occurrence wins the
// position.
func ParseRows(args []string) ([]int, error) {
	var rows []int
	seen := map[int]bool{}
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			rows = append(rows, n)
		}
	}

	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lo, hi, isRange := strings.Cut(part, "-")
			if !isRange {
				n, err := parseRow(part)
				if err != nil {
					return nil, err
				}
				add(n)
				continue
			}
			from, err := parseRow(lo)
			if err != nil {
				return nil, err
			}
			to, err := parseRow(hi)
			if err != nil {
				return nil, err
			}
			if to < from {
				return nil, fmt.Errorf("invalid row range %q", part)
			}
			for n := from; n <= to; n++ {
				add(n)
			}
		}
	}
	return rows, nil
}

func parseRow(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid row %q: must be a non-negative integer", s)
	}
	return n, nil
}
