package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"specpilot/internal/cache"
	"specpilot/internal/shared/logging"
)

func (c *CLI) cacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and pre-seed response cache snapshots",
	}
	cmd.AddCommand(c.cacheInspectCommand(), c.cacheWarmCommand())
	return cmd
}

func (c *CLI) cacheInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <snapshot>",
		Short: "List the entries stored in a cache snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer f.Close()

			entries, err := cache.ReadSnapshot[string](f)
			if err != nil {
				return err
			}
			printEntries(c.out, entries, time.Now())
			return nil
		},
	}
}

func printEntries(out io.Writer, entries []cache.Entry[string], now time.Time) {
	if len(entries) == 0 {
		fmt.Fprintln(out, "Snapshot is empty.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tAGENT\tREUSED\tEXPIRES\tTAGS")
	for _, entry := range entries {
		key := entry.Key
		if len(key) > 16 {
			key = key[:16]
		}
		expires := "never"
		if entry.Metadata.ExpiresAt != nil {
			expires = entry.Metadata.ExpiresAt.Sub(now).Round(time.Minute).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%v\n", key, entry.Metadata.AgentType, entry.Metadata.ReuseCount, expires, entry.Metadata.Tags)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\n%d entries\n", len(entries))
}

func (c *CLI) cacheWarmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "warm <seeds.yaml> <snapshot>",
		Short: "Merge warm-up seeds into a cache snapshot",
		Long: `Reads seeds from a YAML file, merges them into the snapshot (created when
missing) and writes it back. The server loads the snapshot on start when
cache.snapshot points at it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			seedsPath, snapshotPath := args[0], args[1]

			f, err := os.Open(seedsPath)
			if err != nil {
				return fmt.Errorf("open seeds: %w", err)
			}
			defer f.Close()
			seeds, err := cache.LoadSeeds[string](f, cache.KeyBuilder{PrefixLength: cfg.Cache.PrefixLength})
			if err != nil {
				return err
			}

			store, err := cache.New[string](cache.Config{
				Capacity:   cfg.Cache.Capacity,
				DefaultTTL: cfg.Cache.TTL,
				Logger:     logging.NewComponentLogger("Cache"),
			})
			if err != nil {
				return err
			}
			existing, err := cache.LoadSnapshot(store, snapshotPath)
			if err != nil {
				return err
			}
			warmed := store.Warm(seeds)
			total, err := cache.SaveSnapshot(store, snapshotPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%s %d seeds into %s (%d existing, %d total)\n", green("Warmed"), warmed, snapshotPath, existing, total)
			return nil
		},
	}
}
