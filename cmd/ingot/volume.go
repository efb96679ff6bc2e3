package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"

	"github.com/jbweber/ingot/internal/output"
	"github.com/jbweber/ingot/internal/pool"
	"github.com/jbweber/ingot/internal/volume"
)

// DeviceEnv is set to the attached device path for "volume exec".
const DeviceEnv = "INGOT_DEVICE"

// Volume commands
var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
	Long: `Create, resize, clone, attach and delete volumes in a configured pool.

Sizes accept units: 512KB, 64MB, 10GB.`,
}

var volumeFlags struct {
	size    string
	shallow bool
}

func init() {
	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeDeleteCmd)
	volumeCmd.AddCommand(volumeGrowCmd)
	volumeCmd.AddCommand(volumeCloneCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeShowCmd)
	volumeCmd.AddCommand(volumeAttachCmd)
	volumeCmd.AddCommand(volumeDetachCmd)
	volumeCmd.AddCommand(volumeExecCmd)
	volumeCmd.AddCommand(volumeImportCmd)
	volumeCmd.AddCommand(volumeExportCmd)

	volumeCreateCmd.Flags().StringVarP(&volumeFlags.size, "size", "s", "", "volume size (default from config)")
	volumeCloneCmd.Flags().BoolVar(&volumeFlags.shallow, "shallow", false, "clone without copying data where the backend supports it")
}

func parseSize(s string) (uint64, error) {
	size, err := datasize.ParseString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if size == 0 {
		return 0, fmt.Errorf("size must be greater than 0")
	}
	return size.Bytes(), nil
}

// withVolume opens the pool and looks up the volume for commands taking
// <pool> <volume> arguments.
func withVolume(cmd *cobra.Command, args []string, fn func(p *pool.Pool, vol *volume.Volume) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.close()

	p, err := e.openPool(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	vol, err := p.Lookup(args[1])
	if err != nil {
		return err
	}
	return fn(p, vol)
}

func printVolume(cmd *cobra.Command, vol *volume.Volume) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	s, err := f.FormatVolume(vol.Summary())
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), s)
	return err
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create <pool> <name>",
	Short: "Create a volume",
	Long: `Create a volume in a pool.

Example:
  ingot volume create files data --size 10GB`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		size := e.cfg.DefaultVolumeSize.Bytes()
		if volumeFlags.size != "" {
			if size, err = parseSize(volumeFlags.size); err != nil {
				return err
			}
		}

		p, err := e.openPool(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		vol, err := p.Allocate(cmd.Context(), args[1], size)
		if err != nil {
			return fmt.Errorf("failed to create volume: %w", err)
		}
		return printVolume(cmd, vol)
	},
}

var volumeDeleteCmd = &cobra.Command{
	Use:   "delete <pool> <name>",
	Short: "Delete a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			if err := p.Deallocate(cmd.Context(), vol); err != nil {
				return fmt.Errorf("failed to delete volume: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted volume %s\n", vol.Name)
			return nil
		})
	},
}

var volumeGrowCmd = &cobra.Command{
	Use:   "grow <pool> <name> <increment>",
	Short: "Grow a volume",
	Long: `Grow a volume by the given increment.

Example:
  ingot volume grow files data 1GB`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, err := parseSize(args[2])
		if err != nil {
			return err
		}
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			if err := p.Grow(cmd.Context(), vol, delta); err != nil {
				return fmt.Errorf("failed to grow volume: %w", err)
			}
			return printVolume(cmd, vol)
		})
	},
}

var volumeCloneCmd = &cobra.Command{
	Use:   "clone <pool> <source> <name>",
	Short: "Clone a volume",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			clone := p.Clone
			if volumeFlags.shallow {
				clone = p.ShallowClone
			}
			c, err := clone(cmd.Context(), vol, args[2])
			if err != nil {
				return fmt.Errorf("failed to clone volume: %w", err)
			}
			return printVolume(cmd, c)
		})
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list [pool]",
	Short: "List volumes",
	Long:  `List the volumes in one pool, or in every configured pool.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		defer e.close()

		names := args
		if len(names) == 0 {
			for _, pc := range e.cfg.Pools {
				names = append(names, pc.Name)
			}
		}

		var vols []*volume.Volume
		for _, name := range names {
			p, err := e.openPool(cmd.Context(), name)
			if err != nil {
				return err
			}
			vols = append(vols, p.List()...)
		}

		f, err := newFormatter()
		if err != nil {
			return err
		}
		s, err := f.FormatVolumeList(output.Summaries(vols))
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), s)
		return err
	},
}

var volumeShowCmd = &cobra.Command{
	Use:   "show <pool> <name>",
	Short: "Show a volume",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			return printVolume(cmd, vol)
		})
	},
}

var volumeAttachCmd = &cobra.Command{
	Use:   "attach <pool> <name>",
	Short: "Attach a volume to the host",
	Long: `Attach a volume to the host and print the device path.

The volume stays attached until "ingot volume detach". Use "ingot volume exec"
to attach only for the duration of a command.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			device, err := p.Backend.HostAttach(cmd.Context(), vol)
			if err != nil {
				return fmt.Errorf("failed to attach volume: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), device)
			return nil
		})
	},
}

var volumeDetachCmd = &cobra.Command{
	Use:   "detach <pool> <name>",
	Short: "Detach a volume from the host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			if err := p.Backend.HostDetach(cmd.Context(), vol); err != nil {
				return fmt.Errorf("failed to detach volume: %w", err)
			}
			return nil
		})
	},
}

var volumeExecCmd = &cobra.Command{
	Use:   "exec <pool> <name> -- <command> [args...]",
	Short: "Run a command with a volume attached",
	Long: `Attach a volume, run a command, and detach the volume again.

The device path is available as $INGOT_DEVICE, and any argument equal to {}
is replaced with it. The volume is detached even if the command fails or
ingot is interrupted.

Example:
  ingot volume exec files data -- mkfs.ext4 {}`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		argv := args[2:]
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			return p.Attach(cmd.Context(), vol, func(ctx context.Context, device string) error {
				return runWithDevice(ctx, cmd, device, argv)
			})
		})
	},
}

func runWithDevice(ctx context.Context, cmd *cobra.Command, device string, argv []string) error {
	expanded := make([]string, len(argv))
	for i, a := range argv {
		expanded[i] = strings.ReplaceAll(a, "{}", device)
	}

	c := exec.CommandContext(ctx, expanded[0], expanded[1:]...)
	c.Env = append(os.Environ(), DeviceEnv+"="+device)
	c.Stdin = cmd.InOrStdin()
	c.Stdout = cmd.OutOrStdout()
	c.Stderr = cmd.ErrOrStderr()
	if err := c.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", strings.Join(expanded, " "), err)
	}
	return nil
}

var volumeImportCmd = &cobra.Command{
	Use:   "import <pool> <name> <file>",
	Short: "Copy a file into a volume",
	Long: `Write the contents of a file to the start of a volume.

The file must fit in the volume; grow the volume first if it does not.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			src, err := os.Open(args[2])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[2], err)
			}
			defer func() { _ = src.Close() }()

			info, err := src.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", args[2], err)
			}
			if uint64(info.Size()) > vol.Size {
				return fmt.Errorf("%s is %s, larger than volume %s (%s)",
					args[2], output.FormatSize(uint64(info.Size())), vol.Name, output.FormatSize(vol.Size))
			}

			h, err := p.Open(cmd.Context(), vol)
			if err != nil {
				return fmt.Errorf("failed to open volume: %w", err)
			}
			n, err := io.Copy(h, src)
			if closeErr := h.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("failed to write volume: %w", err)
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s to volume %s\n", output.FormatSize(uint64(n)), vol.Name)
			return nil
		})
	},
}

var volumeExportCmd = &cobra.Command{
	Use:   "export <pool> <name> <file>",
	Short: "Copy a volume's contents to a file",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withVolume(cmd, args, func(p *pool.Pool, vol *volume.Volume) error {
			h, err := p.Open(cmd.Context(), vol)
			if err != nil {
				return fmt.Errorf("failed to open volume: %w", err)
			}
			defer func() { _ = h.Close() }()

			dst, err := os.Create(args[2])
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", args[2], err)
			}
			if _, err := io.Copy(dst, h); err != nil {
				_ = dst.Close()
				return fmt.Errorf("failed to read volume: %w", err)
			}
			return dst.Close()
		})
	},
}
