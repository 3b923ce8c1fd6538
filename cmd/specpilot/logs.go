package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"specpilot/internal/shared/logging"
)

func (c *CLI) logsCommand() *cobra.Command {
	var (
		dir   string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "logs <session-id>",
		Short: "Print the log lines recorded for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := c.loadConfig()
				if err != nil {
					return err
				}
				dir = cfg.Logging.Dir
			}
			logs, err := logging.FetchSessionLogs(args[0], logging.LogFetchOptions{Dir: dir, MaxEntries: limit})
			if err != nil {
				return err
			}
			found := 0
			for _, file := range logs.Files {
				if len(file.Entries) == 0 {
					continue
				}
				fmt.Fprintf(c.out, "%s %s\n", bold(file.Category), gray(file.Path))
				for _, entry := range file.Entries {
					fmt.Fprintln(c.out, "  "+entry)
				}
				if file.Truncated {
					fmt.Fprintln(c.out, yellow("  (truncated)"))
				}
				found += len(file.Entries)
			}
			if found == 0 {
				fmt.Fprintf(c.out, "No log lines for session %s.\n", logs.SessionID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Log directory (defaults to logging.dir or ~/.specpilot/logs)")
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum lines per log file")
	return cmd
}
