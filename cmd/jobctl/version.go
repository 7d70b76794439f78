package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localrivet/jobwire"
)

var (
	buildCommit = "unknown"
	buildDate   = "unknown"
)

func newVersionCmd() *cobra.Command {
	var outputJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print jobctl version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"version": jobwire.Version,
					"commit":  buildCommit,
					"date":    buildDate,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version: %s\ncommit: %s\ndate: %s\n", jobwire.Version, buildCommit, buildDate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&outputJSON, "json", false, "Print as JSON")
	return cmd
}
