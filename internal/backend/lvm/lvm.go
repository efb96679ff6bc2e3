// Package lvm provisions volumes as logical volumes in an existing LVM
// volume group.
//
// LVM allocates in whole MiB. The Backend interface stays in bytes; the MiB
// view is available through CapacityMB, UsedSpaceMB and FreeSpaceMB. A volume
// records the byte size it was requested with, while the logical volume is
// created with that size rounded down to whole MiB.
//
// A volume's Path is the device mapper link /dev/<vg>/<id>. It is set only
// once lvcreate has succeeded.
package lvm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/command"
	"github.com/jbweber/ingot/internal/recordstore"
	"github.com/jbweber/ingot/internal/volume"
)

const (
	// Kind is the backend kind name.
	Kind = "lvm"

	// MiB is the LVM allocation unit.
	MiB = uint64(datasize.MB)

	// DefaultTimeout bounds LVM commands.
	DefaultTimeout = 30 * time.Second
)

// Namespace is the UUIDv5 namespace for LVM volume ids.
var Namespace = uuid.MustParse("d7ca5862-47b2-4ff9-927e-2bb04af727b8")

// Backend creates and removes logical volumes in one volume group.
type Backend struct {
	vg         string
	records    backend.Records
	runner     command.Runner
	capacityMB uint64
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	runner command.Runner
	fs     afero.Fs
	codec  recordstore.Codec
}

// WithRunner sets the runner used for LVM commands.
func WithRunner(r command.Runner) Option {
	return func(c *config) {
		c.runner = r
	}
}

// WithFs sets the filesystem holding the record store.
func WithFs(fs afero.Fs) Option {
	return func(c *config) {
		c.fs = fs
	}
}

// WithRecordCodec sets the record encoding (YAML by default).
func WithRecordCodec(codec recordstore.Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// New opens the volume group vgName, keeping records in stateDir/vgName.
// The group must exist; a group that cannot be queried or that reports a
// different name is a configuration error.
func New(ctx context.Context, stateDir, vgName string, opts ...Option) (*Backend, error) {
	cfg := config{
		runner: command.NewExec(false, DefaultTimeout),
		fs:     afero.NewOsFs(),
		codec:  recordstore.YAMLCodec{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if vgName == "" {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil, "volume group name is required")
	}
	if stateDir == "" {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil, "state directory is required")
	}

	b := &Backend{
		vg:     vgName,
		runner: cfg.runner,
	}

	info, err := b.VGInfo(ctx)
	if err != nil {
		return nil, backend.ConfigError(Kind, backend.OpInit, err, "failed to query volume group %s", vgName)
	}
	if info.Name != vgName {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil,
			"volume group name mismatch: configured %s, found %s", vgName, info.Name)
	}
	b.capacityMB = info.Size / MiB

	records, err := recordstore.NewFileStore[volume.Summary](
		cfg.fs, filepath.Join(stateDir, vgName), recordstore.WithCodec(cfg.codec))
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to open record store")
	}
	b.records = records

	log.Ctx(ctx).Debug().
		Str("vg", vgName).
		Uint64("capacity_mb", b.capacityMB).
		Msg("opened lvm backend")

	return b, nil
}

// Kind returns "lvm".
func (b *Backend) Kind() string {
	return Kind
}

// VolumeGroup returns the volume group name.
func (b *Backend) VolumeGroup() string {
	return b.vg
}

func (b *Backend) lvName(id uuid.UUID) string {
	return b.vg + "/" + id.String()
}

func (b *Backend) lvPath(id uuid.UUID) string {
	return "/dev/" + b.vg + "/" + id.String()
}

// CapacityMB is the volume group size in MiB at construction.
func (b *Backend) CapacityMB() uint64 {
	return b.capacityMB
}

// UsedSpaceMB is the recorded volume total in whole MiB, rounded down.
func (b *Backend) UsedSpaceMB() (uint64, error) {
	used, err := backend.UsedBytes(b.records)
	if err != nil {
		return 0, backend.BackendError(Kind, backend.OpUsage, err, "failed to compute used space")
	}
	return used / MiB, nil
}

// FreeSpaceMB is CapacityMB minus UsedSpaceMB.
func (b *Backend) FreeSpaceMB() (uint64, error) {
	used, err := b.UsedSpaceMB()
	if err != nil {
		return 0, err
	}
	return backend.FreeSpace(b.capacityMB, used), nil
}

// Capacity returns CapacityMB in bytes.
func (b *Backend) Capacity() (uint64, error) {
	return b.capacityMB * MiB, nil
}

// UsedSpace returns UsedSpaceMB in bytes.
func (b *Backend) UsedSpace() (uint64, error) {
	used, err := b.UsedSpaceMB()
	return used * MiB, err
}

// FreeSpace returns FreeSpaceMB in bytes.
func (b *Backend) FreeSpace() (uint64, error) {
	free, err := b.FreeSpaceMB()
	return free * MiB, err
}

// Volumes returns all recorded logical volumes.
func (b *Backend) Volumes(ctx context.Context) ([]*volume.Volume, error) {
	vols, err := backend.LoadVolumes(b.records)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpUsage, err, "failed to list volumes")
	}
	return vols, nil
}

// CreateVolume creates a logical volume of size bytes, rounded down to whole
// MiB. Sizes under one MiB are rejected. The logical volume is removed again
// when its record cannot be written.
func (b *Backend) CreateVolume(ctx context.Context, size uint64, name string) (*volume.Volume, error) {
	free, err := b.FreeSpace()
	if err != nil {
		return nil, err
	}
	if size > free {
		return nil, backend.CapacityError(Kind, backend.OpCreate, name, size, free)
	}

	sizeMB := size / MiB
	if sizeMB == 0 {
		return nil, backend.BackendError(Kind, backend.OpCreate, nil,
			"volume %s size %d is smaller than %s", name, size, datasize.ByteSize(MiB).HR())
	}

	id := volume.DeriveID(Namespace, name)
	_, err = b.runner.Run(ctx, "lvcreate",
		"-L", fmt.Sprintf("%dM", sizeMB),
		"-n", id.String(),
		b.vg)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to create logical volume %s", name)
	}

	vol := volume.New(id, name, size, b.lvPath(id))
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if _, rmErr := b.runner.Run(context.WithoutCancel(ctx), "lvremove", "-f", b.lvName(id)); rmErr != nil {
			result = multierror.Append(result, fmt.Errorf("failed to remove logical volume: %w", rmErr))
		}
		return nil, backend.BackendError(Kind, backend.OpCreate, result.ErrorOrNil(), "failed to record volume %s", name)
	}

	log.Ctx(ctx).Info().Str("volume", name).Stringer("id", id).Uint64("size_mb", sizeMB).Msg("created logical volume")
	return vol, nil
}

// DeleteVolume removes the logical volume. The record is kept when lvremove
// fails.
func (b *Backend) DeleteVolume(ctx context.Context, vol *volume.Volume) error {
	if _, err := b.runner.Run(ctx, "lvremove", "-f", b.lvName(vol.ID)); err != nil {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove logical volume %s", vol.Name)
	}

	if err := b.records.Delete(vol.Key()); err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove record for volume %s", vol.Name)
	}

	log.Ctx(ctx).Info().Str("volume", vol.Name).Stringer("id", vol.ID).Msg("removed logical volume")
	return nil
}

// GrowVolume is not supported.
func (b *Backend) GrowVolume(ctx context.Context, vol *volume.Volume, size uint64) error {
	return backend.NotSupported(Kind, backend.OpGrow)
}

// CloneVolume is not supported.
func (b *Backend) CloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	return nil, backend.NotSupported(Kind, backend.OpClone)
}

// OpenVolume is not supported.
func (b *Backend) OpenVolume(ctx context.Context, vol *volume.Volume) (backend.Handle, error) {
	return nil, backend.NotSupported(Kind, backend.OpOpen)
}

// HostAttach is not supported.
func (b *Backend) HostAttach(ctx context.Context, vol *volume.Volume) (string, error) {
	return "", backend.NotSupported(Kind, backend.OpHostAttach)
}

// HostDetach is not supported.
func (b *Backend) HostDetach(ctx context.Context, vol *volume.Volume) error {
	return backend.NotSupported(Kind, backend.OpHostDetach)
}

var _ backend.Backend = (*Backend)(nil)
