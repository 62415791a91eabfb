package main

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/vango-dev/remoting/internal/errors"
)

func codesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "codes [code]",
		Short: "List error codes or explain one",
		Long: `List every registered error code, or print the full explanation
of a single code.

Examples:
  remoting codes
  remoting codes R004
  remoting codes R004 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if _, ok := errors.GetTemplate(args[0]); !ok {
					return fmt.Errorf("unknown error code %q", args[0])
				}
				e := errors.New(args[0])
				if asJSON {
					fmt.Fprintln(out, e.FormatJSON())
				} else {
					fmt.Fprint(out, e.Format())
				}
				return nil
			}

			codes := errors.GetAllCodes()
			slices.Sort(codes)
			for _, code := range codes {
				e := errors.New(code)
				if asJSON {
					fmt.Fprintln(out, e.FormatJSON())
					continue
				}
				fmt.Fprintln(out, e.FormatCompact())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
