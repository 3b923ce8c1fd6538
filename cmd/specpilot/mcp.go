package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mcpserver "specpilot/internal/server/mcp"
)

func (c *CLI) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve specpilot as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.buildContainer()
			if err != nil {
				return err
			}
			defer func() {
				if err := container.Shutdown(context.Background()); err != nil {
					fmt.Fprintf(c.errOut, "Cleanup error: %v\n", err)
				}
			}()

			var stats mcpserver.CacheStatsFunc
			if container.Cache != nil {
				stats = container.CacheStats
			}
			s := mcpserver.New(container.Router, stats, appVersion())
			if err := mcpserver.Serve(s); err != nil {
				return fmt.Errorf("mcp server: %w", err)
			}
			return nil
		},
	}
}
