package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/config"
	"github.com/jbweber/ingot/internal/libvirt"
	"github.com/jbweber/ingot/internal/logger"
	"github.com/jbweber/ingot/internal/output"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes by failure kind, so scripts can tell a full pool from a
// broken host.
const (
	exitError        = 1
	exitConfig       = 2
	exitCapacity     = 3
	exitNotSupported = 4
)

var flags struct {
	configPath string
	logLevel   string
	output     string
	noHeaders  bool
	bytes      bool
}

func main() {
	ctx, stop := signalContext(context.Background())
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// signalContext is cancelled on SIGINT or SIGTERM so running commands can
// unwind and detach volumes before ingot exits.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, backend.ErrConfig):
		return exitConfig
	case errors.Is(err, backend.ErrCapacity):
		return exitCapacity
	case errors.Is(err, backend.ErrNotSupported):
		return exitNotSupported
	default:
		return exitError
	}
}

var rootCmd = &cobra.Command{
	Use:   "ingot",
	Short: "Ingot - volume provisioning tool",
	Long: `Ingot provisions block volumes from configured storage pools.

Each pool is backed by one backend: in-memory buffers, sparse files in a
directory, logical volumes in an LVM volume group, or a libvirt storage pool.
Pools are declared in a YAML configuration file.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(flags.output); err != nil {
			return err
		}
		level := flags.logLevel
		if level == "" {
			level = os.Getenv("LOG_LEVEL")
		}
		if _, err := logger.ParseLevel(level); err != nil {
			return err
		}
		logger.Configure(level, logger.Format(os.Getenv("LOG_TYPE")))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&flags.output, "output", "o", string(output.FormatTable), "output format (table, yaml, json)")
	rootCmd.PersistentFlags().BoolVar(&flags.noHeaders, "no-headers", false, "omit table headers")
	rootCmd.PersistentFlags().BoolVar(&flags.bytes, "bytes", false, "print sizes in bytes")

	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(testConnCmd)
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test libvirt connection",
	Long:  `Test connectivity to the libvirt daemon and display version information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		socket, timeout := libvirt.DefaultSocket, libvirt.DefaultTimeout
		if cfg, err := config.LoadFromFile(flags.configPath); err == nil {
			socket, timeout = cfg.Libvirt.Socket, cfg.Libvirt.Timeout
		}

		fmt.Println("Testing libvirt connection...")

		client, err := libvirt.ConnectWithContext(cmd.Context(), socket, timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		fmt.Println("✓ Connected to libvirt daemon")

		if err := client.Ping(); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		info, err := client.Info()
		if err != nil {
			return err
		}

		fmt.Printf("✓ Libvirt version: %s\n", info.Version)
		fmt.Printf("✓ Hypervisor hostname: %s\n", info.Hostname)
		fmt.Printf("✓ Connection URI: %s\n", info.URI)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
