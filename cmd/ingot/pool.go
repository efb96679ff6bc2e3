package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/ingot/internal/backend/libvirtpool"
	"github.com/jbweber/ingot/internal/output"
	"github.com/jbweber/ingot/internal/pool"
)

// Pool commands
var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Inspect storage pools",
	Long: `Inspect the storage pools declared in the configuration file.

Capacity is measured when a pool is opened; usage is the sum of the volumes
recorded in the pool.`,
}

func init() {
	poolCmd.AddCommand(poolListCmd)
	poolCmd.AddCommand(poolStatusCmd)
}

var poolListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured pools",
	Long: `List every configured pool with its backend, volume count and usage.

Pools that cannot be opened are reported on stderr and skipped.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		var summaries []pool.Summary
		for _, pc := range e.cfg.Pools {
			p, err := e.openPool(cmd.Context(), pc.Name)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				continue
			}
			sum, err := p.Summary()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
				continue
			}
			summaries = append(summaries, sum)
		}

		return printPools(cmd, summaries)
	},
}

var poolStatusCmd = &cobra.Command{
	Use:   "status <pool>",
	Short: "Show a pool's capacity and usage",
	Long: `Show capacity, usage and free space for one pool.

Example:
  ingot pool status files`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		p, err := e.openPool(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		sum, err := p.Summary()
		if err != nil {
			return err
		}

		if output.Format(flags.output) != output.FormatTable {
			return printPools(cmd, []pool.Summary{sum})
		}

		out := cmd.OutOrStdout()
		capacity, free := output.FormatSize(sum.Capacity), output.FormatSize(sum.Free)
		if sum.Unbounded() {
			capacity, free = "unbounded", "unbounded"
		}
		_, _ = fmt.Fprintf(out, "Name:      %s\n", sum.Name)
		_, _ = fmt.Fprintf(out, "Backend:   %s\n", sum.Kind)
		if lp, ok := p.Backend.(*libvirtpool.Backend); ok {
			state, err := lp.State(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "State:     %s\n", state)
		}
		_, _ = fmt.Fprintf(out, "Volumes:   %d\n", sum.Volumes)
		_, _ = fmt.Fprintf(out, "Capacity:  %s\n", capacity)
		_, _ = fmt.Fprintf(out, "Used:      %s\n", output.FormatSize(sum.Used))
		_, _ = fmt.Fprintf(out, "Free:      %s\n", free)
		return nil
	},
}

func printPools(cmd *cobra.Command, summaries []pool.Summary) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	s, err := f.FormatPoolList(summaries)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), s)
	return err
}
