// Package flatfile implements a durable backend that stores each volume as a
// sparse file in a host directory.
//
// Layout under the backend path:
//
//	vol-<uuid>          volume contents
//	volumes/<uuid>.yaml volume records
//
// Volume ids are derived from names (see Namespace), so creating a volume
// with a name already in use replaces the previous file and record.
package flatfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ricochet2200/go-disk-usage/du"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/command"
	"github.com/jbweber/ingot/internal/recordstore"
	"github.com/jbweber/ingot/internal/volume"
)

const (
	// Kind is the backend kind name.
	Kind = "flatfile"

	// RecordsDir is the record store directory, relative to the backend path.
	RecordsDir = "volumes"

	// DefaultAttachTimeout bounds losetup calls.
	DefaultAttachTimeout = 5 * time.Second

	// FilePermissions are the permissions for volume files.
	FilePermissions = 0o644
)

// Namespace is the UUIDv5 namespace for flat file volume ids.
var Namespace = uuid.MustParse("5d9b6527-52ff-4f7a-9674-8ada17026129")

// CapacityFunc measures the total size in bytes of the filesystem holding path.
type CapacityFunc func(path string) (uint64, error)

// Backend stores volumes as files under a directory.
type Backend struct {
	path     string
	records  backend.Records
	runner   command.Runner
	measure  CapacityFunc
	capacity uint64
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	runner  command.Runner
	measure CapacityFunc
	codec   recordstore.Codec
}

// WithRunner sets the runner used for losetup.
func WithRunner(r command.Runner) Option {
	return func(c *config) {
		c.runner = r
	}
}

// WithCapacityFunc replaces the filesystem capacity measurement.
func WithCapacityFunc(fn CapacityFunc) Option {
	return func(c *config) {
		c.measure = fn
	}
}

// WithRecordCodec sets the record encoding (YAML by default).
func WithRecordCodec(codec recordstore.Codec) Option {
	return func(c *config) {
		c.codec = codec
	}
}

// New opens a flat file backend rooted at path, creating the directory if
// needed. Capacity is measured once here; call Remeasure to refresh it.
func New(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	cfg := config{
		runner:  command.NewExec(false, DefaultAttachTimeout),
		measure: DiskSize,
		codec:   recordstore.YAMLCodec{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if path == "" {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil, "path is required")
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to create %s", path)
	}

	records, err := recordstore.NewFileStore[volume.Summary](
		afero.NewOsFs(), filepath.Join(path, RecordsDir), recordstore.WithCodec(cfg.codec))
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to open record store")
	}

	b := &Backend{
		path:    path,
		records: records,
		runner:  cfg.runner,
		measure: cfg.measure,
	}
	if err := b.Remeasure(); err != nil {
		return nil, err
	}

	n, err := records.Len()
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to read records")
	}
	log.Ctx(ctx).Debug().
		Str("path", path).
		Uint64("capacity", b.capacity).
		Int("volumes", n).
		Msg("opened flat file backend")

	return b, nil
}

// DiskSize returns the total size of the filesystem holding path.
func DiskSize(path string) (uint64, error) {
	usage := du.NewDiskUsage(path)
	if usage == nil || usage.Size() == 0 {
		return 0, fmt.Errorf("unable to get disk size for path %s", path)
	}
	return usage.Size(), nil
}

// Remeasure refreshes the cached filesystem capacity.
func (b *Backend) Remeasure() error {
	capacity, err := b.measure(b.path)
	if err != nil {
		return backend.BackendError(Kind, backend.OpUsage, err, "failed to measure capacity")
	}
	b.capacity = capacity
	return nil
}

// Kind returns "flatfile".
func (b *Backend) Kind() string {
	return Kind
}

// Path returns the backend directory.
func (b *Backend) Path() string {
	return b.path
}

func (b *Backend) volumePath(id uuid.UUID) string {
	return filepath.Join(b.path, "vol-"+id.String())
}

// Capacity returns the filesystem size measured at construction.
func (b *Backend) Capacity() (uint64, error) {
	return b.capacity, nil
}

// UsedSpace sums the recorded volume sizes.
func (b *Backend) UsedSpace() (uint64, error) {
	used, err := backend.UsedBytes(b.records)
	if err != nil {
		return 0, backend.BackendError(Kind, backend.OpUsage, err, "failed to compute used space")
	}
	return used, nil
}

// FreeSpace is Capacity minus UsedSpace.
func (b *Backend) FreeSpace() (uint64, error) {
	used, err := b.UsedSpace()
	if err != nil {
		return 0, err
	}
	return backend.FreeSpace(b.capacity, used), nil
}

// Volumes returns all recorded volumes.
func (b *Backend) Volumes(ctx context.Context) ([]*volume.Volume, error) {
	vols, err := backend.LoadVolumes(b.records)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpUsage, err, "failed to list volumes")
	}
	return vols, nil
}

// reserve checks that size more bytes fit, not counting the record that id
// would replace.
func (b *Backend) reserve(ctx context.Context, op, name string, id uuid.UUID, size uint64) error {
	free, err := b.FreeSpace()
	if err != nil {
		return err
	}

	existing, err := b.records.Get(id.String())
	switch {
	case err == nil:
		if existing.DevicePath != "" {
			return backend.BackendError(Kind, op, nil,
				"volume %s is in use at %s and cannot be replaced", name, existing.DevicePath)
		}
		log.Ctx(ctx).Warn().
			Str("volume", name).
			Stringer("id", id).
			Msg("volume name already in use, replacing existing volume")
		free += existing.Size
	case !errors.Is(err, recordstore.ErrNotFound):
		return backend.BackendError(Kind, op, err, "failed to read record for %s", name)
	}

	if size > free {
		return backend.CapacityError(Kind, op, name, size, free)
	}
	return nil
}

func toInt64(op string, size uint64) (int64, error) {
	if size > math.MaxInt64 {
		return 0, backend.BackendError(Kind, op, nil, "size %d out of range", size)
	}
	return int64(size), nil
}

// CreateVolume creates a sparse file of size bytes named after the volume id.
func (b *Backend) CreateVolume(ctx context.Context, size uint64, name string) (*volume.Volume, error) {
	n, err := toInt64(backend.OpCreate, size)
	if err != nil {
		return nil, err
	}

	id := volume.DeriveID(Namespace, name)
	if err := b.reserve(ctx, backend.OpCreate, name, id, size); err != nil {
		return nil, err
	}

	path := b.volumePath(id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to create %s", path)
	}
	if err := f.Truncate(n); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to size %s", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to close %s", path)
	}

	vol := volume.New(id, name, size, path)
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to record volume %s", name)
	}

	log.Ctx(ctx).Info().Str("volume", name).Stringer("id", id).Uint64("size", size).Msg("created volume")
	return vol, nil
}

// DeleteVolume removes the volume file and then its record. A file that is
// already gone counts as released.
func (b *Backend) DeleteVolume(ctx context.Context, vol *volume.Volume) error {
	if err := os.Remove(vol.Path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove %s", vol.Path)
		}
		log.Ctx(ctx).Warn().Str("volume", vol.Name).Str("path", vol.Path).Msg("volume file already removed")
	}

	if err := b.records.Delete(vol.Key()); err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove record for volume %s", vol.Name)
	}

	log.Ctx(ctx).Info().Str("volume", vol.Name).Stringer("id", vol.ID).Msg("deleted volume")
	return nil
}

// GrowVolume extends the volume file by size bytes.
func (b *Backend) GrowVolume(ctx context.Context, vol *volume.Volume, size uint64) error {
	newSize := vol.Size + size
	if newSize < vol.Size {
		return backend.BackendError(Kind, backend.OpGrow, nil, "cannot grow volume %s by %d bytes", vol.Name, size)
	}
	n, err := toInt64(backend.OpGrow, newSize)
	if err != nil {
		return err
	}

	free, err := b.FreeSpace()
	if err != nil {
		return err
	}
	if size > free {
		return backend.CapacityError(Kind, backend.OpGrow, vol.Name, size, free)
	}

	if err := os.Truncate(vol.Path, n); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to grow %s", vol.Path)
	}

	grown := *vol
	grown.Size = newSize
	if err := b.records.Set(grown.Key(), grown.Summary()); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to record volume %s", vol.Name)
	}
	vol.Size = newSize

	log.Ctx(ctx).Info().Str("volume", vol.Name).Uint64("size", newSize).Msg("grew volume")
	return nil
}

// CloneVolume copies the volume file byte for byte into a new volume.
func (b *Backend) CloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	return b.clone(ctx, backend.OpClone, vol, name, copyFile)
}

// ShallowCloneVolume clones with a reflink when the filesystem can share
// extents between files, and falls back to a full copy when it cannot.
func (b *Backend) ShallowCloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	return b.clone(ctx, backend.OpShallowClone, vol, name, func(dst, src *os.File) error {
		err := reflink(dst, src)
		if err == nil {
			return nil
		}
		log.Ctx(ctx).Debug().Err(err).Str("volume", vol.Name).Msg("reflink unavailable, copying")
		return copyFile(dst, src)
	})
}

func (b *Backend) clone(ctx context.Context, op string, vol *volume.Volume, name string, copyFn func(dst, src *os.File) error) (*volume.Volume, error) {
	id := volume.DeriveID(Namespace, name)
	if id == vol.ID {
		return nil, backend.BackendError(Kind, op, nil, "clone name %q must differ from the source volume", name)
	}
	if err := b.reserve(ctx, op, name, id, vol.Size); err != nil {
		return nil, err
	}

	src, err := os.Open(vol.Path)
	if err != nil {
		return nil, backend.BackendError(Kind, op, err, "failed to open %s", vol.Path)
	}
	defer func() { _ = src.Close() }()

	path := b.volumePath(id)
	dst, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return nil, backend.BackendError(Kind, op, err, "failed to create %s", path)
	}

	if err := copyFn(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, op, err, "failed to copy %s to %s", vol.Path, path)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, op, err, "failed to close %s", path)
	}

	clone := volume.New(id, name, vol.Size, path)
	clone.Type = vol.Type
	if err := b.records.Set(clone.Key(), clone.Summary()); err != nil {
		_ = os.Remove(path)
		return nil, backend.BackendError(Kind, op, err, "failed to record clone %s", name)
	}

	log.Ctx(ctx).Info().Str("volume", vol.Name).Str("clone", name).Stringer("id", id).Msg("cloned volume")
	return clone, nil
}

// copyFile copies src into dst from the start of both files.
func copyFile(dst, src *os.File) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := dst.Truncate(0); err != nil {
		return err
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err := io.Copy(dst, src)
	return err
}

// OpenVolume opens the volume file for reading and writing.
func (b *Backend) OpenVolume(ctx context.Context, vol *volume.Volume) (backend.Handle, error) {
	f, err := os.OpenFile(vol.Path, os.O_RDWR, 0)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpOpen, err, "failed to open %s", vol.Path)
	}
	return f, nil
}

// HostAttach binds the volume file to a free loop device.
func (b *Backend) HostAttach(ctx context.Context, vol *volume.Volume) (string, error) {
	if vol.Attached() {
		return "", backend.BackendError(Kind, backend.OpHostAttach, nil,
			"volume %s is already attached at %s", vol.Name, vol.DevicePath)
	}

	out, err := b.runner.Run(ctx, "losetup", "-fP", "--show", vol.Path)
	if err != nil {
		return "", backend.BackendError(Kind, backend.OpHostAttach, err, "failed to attach %s", vol.Path)
	}
	device := strings.TrimSpace(string(out))
	if device == "" {
		return "", backend.BackendError(Kind, backend.OpHostAttach, nil, "losetup returned no device for %s", vol.Path)
	}

	vol.DevicePath = device
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		return device, backend.BackendError(Kind, backend.OpHostAttach, err, "failed to record device for volume %s", vol.Name)
	}

	log.Ctx(ctx).Info().Str("volume", vol.Name).Str("device", device).Msg("attached volume")
	return device, nil
}

// HostDetach releases the loop device recorded on the volume. It does
// nothing when no device is recorded. A recorded device that no longer
// exists, such as after a reboot, is treated as already released and the
// record is cleared.
func (b *Backend) HostDetach(ctx context.Context, vol *volume.Volume) error {
	if !vol.Attached() {
		return nil
	}

	if _, err := b.runner.Run(ctx, "losetup", "-d", vol.DevicePath); err != nil {
		if !deviceGone(err) {
			return backend.BackendError(Kind, backend.OpHostDetach, err, "failed to detach %s", vol.DevicePath)
		}
		log.Ctx(ctx).Warn().Err(err).Str("volume", vol.Name).Str("device", vol.DevicePath).
			Msg("loop device already released")
	}

	device := vol.DevicePath
	vol.DevicePath = ""
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		return backend.BackendError(Kind, backend.OpHostDetach, err, "failed to record detach for volume %s", vol.Name)
	}

	log.Ctx(ctx).Info().Str("volume", vol.Name).Str("device", device).Msg("detached volume")
	return nil
}

// deviceGone reports whether losetup failed because the loop device does not
// exist or is no longer bound to a file.
func deviceGone(err error) bool {
	var cmdErr *command.Error
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(cmdErr.Stderr, "No such device") ||
		strings.Contains(cmdErr.Stderr, "No such file or directory")
}

var (
	_ backend.Backend       = (*Backend)(nil)
	_ backend.ShallowCloner = (*Backend)(nil)
)
