package pool

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/backend/flatfile"
	"github.com/jbweber/ingot/internal/backend/libvirtpool"
	"github.com/jbweber/ingot/internal/backend/lvm"
	"github.com/jbweber/ingot/internal/backend/memory"
	"github.com/jbweber/ingot/internal/command"
	"github.com/jbweber/ingot/internal/config"
)

// Option supplies dependencies to Open.
type Option func(*deps)

type deps struct {
	runner  command.Runner
	libvirt libvirtpool.Client
}

// WithRunner overrides the host command runner for flatfile and lvm pools.
func WithRunner(r command.Runner) Option {
	return func(d *deps) {
		d.runner = r
	}
}

// WithLibvirt supplies the connection used by libvirt pools.
func WithLibvirt(c libvirtpool.Client) Option {
	return func(d *deps) {
		d.libvirt = c
	}
}

// NewBackend builds the backend a pool declaration names.
func NewBackend(ctx context.Context, cfg config.PoolConfig, opts ...Option) (backend.Backend, error) {
	var d deps
	for _, opt := range opts {
		opt(&d)
	}

	runner := func(defaultTimeout time.Duration) command.Runner {
		if d.runner != nil {
			return d.runner
		}
		timeout := cfg.CommandTimeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		return command.NewExec(cfg.Sudo, timeout)
	}

	var (
		b   backend.Backend
		err error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		b, err = memory.New()
	case config.BackendFlatFile:
		b, err = flatfile.New(ctx, cfg.Path,
			flatfile.WithRunner(runner(flatfile.DefaultAttachTimeout)))
	case config.BackendLVM:
		b, err = lvm.New(ctx, filepath.Join(cfg.StateDir, "lvm"), cfg.VolumeGroup,
			lvm.WithRunner(runner(lvm.DefaultTimeout)))
	case config.BackendLibvirt:
		if d.libvirt == nil {
			return nil, backend.ConfigError(libvirtpool.Kind, backend.OpInit, nil, "no libvirt connection for pool %s", cfg.Name)
		}
		b, err = libvirtpool.New(ctx, d.libvirt, cfg.LibvirtPool, filepath.Join(cfg.StateDir, "libvirt"),
			libvirtpool.WithFormat(libvirtpool.Format(cfg.Format)))
	default:
		return nil, fmt.Errorf("unknown backend %q for pool %s", cfg.Backend, cfg.Name)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Open builds the pool's backend and replays its volumes.
func Open(ctx context.Context, cfg config.PoolConfig, opts ...Option) (*Pool, error) {
	b, err := NewBackend(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool %s: %w", cfg.Name, err)
	}
	return New(ctx, cfg.Name, b)
}
