package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/jbweber/ingot/internal/config"
	"github.com/jbweber/ingot/internal/libvirt"
	"github.com/jbweber/ingot/internal/logger"
	"github.com/jbweber/ingot/internal/output"
	"github.com/jbweber/ingot/internal/pool"
)

// env holds what a command needs: the loaded configuration and a libvirt
// connection opened on first use.
type env struct {
	cfg     *config.Config
	libvirt *libvirt.Client
}

func loadEnv() (*env, error) {
	cfg, err := config.LoadFromFile(flags.configPath)
	if err != nil {
		return nil, err
	}
	// flags and environment take precedence over the file
	if flags.logLevel == "" && os.Getenv("LOG_LEVEL") == "" && cfg.LogLevel != "" {
		logger.Configure(cfg.LogLevel, logger.Format(cfg.LogFormat))
	}
	return &env{cfg: cfg}, nil
}

func (e *env) close() {
	if e.libvirt == nil {
		return
	}
	if err := e.libvirt.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", err)
	}
}

// openPool opens the named pool, connecting to libvirt if the pool needs it.
func (e *env) openPool(ctx context.Context, name string) (*pool.Pool, error) {
	pc, err := e.cfg.Pool(name)
	if err != nil {
		return nil, err
	}

	var opts []pool.Option
	if pc.Backend == config.BackendLibvirt {
		if e.libvirt == nil {
			e.libvirt, err = libvirt.ConnectWithContext(ctx, e.cfg.Libvirt.Socket, e.cfg.Libvirt.Timeout)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
			}
		}
		opts = append(opts, pool.WithLibvirt(e.libvirt.Libvirt()))
	}

	log.Ctx(ctx).Debug().Str("pool", pc.Name).Str("backend", pc.Backend).Msg("opening pool")
	return pool.Open(ctx, *pc, opts...)
}

func newFormatter() (output.Formatter, error) {
	return output.NewFormatter(output.Options{
		Format:    output.Format(flags.output),
		NoHeaders: flags.noHeaders,
		Bytes:     flags.bytes,
	})
}
