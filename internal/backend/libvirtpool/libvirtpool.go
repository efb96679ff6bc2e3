// Package libvirtpool exposes an existing libvirt storage pool as a volume
// backend. Volumes are libvirt storage volumes named vol-<uuid>; their
// records live in a local state directory like every other backend.
package libvirtpool

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/recordstore"
	"github.com/jbweber/ingot/internal/volume"
)

// Kind is the backend kind name.
const Kind = "libvirt"

// Namespace is the UUIDv5 namespace for libvirt pool volume ids.
var Namespace = uuid.MustParse("3f1c0a1e-6b7d-4c55-9a35-0e2c8d3b7a41")

// Backend provisions volumes in one libvirt storage pool.
type Backend struct {
	client   Client
	pool     libvirt.StoragePool
	format   Format
	records  backend.Records
	capacity uint64
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	format Format
	fs     afero.Fs
	codec  recordstore.Codec
}

// WithFormat sets the format of new volumes (raw by default).
func WithFormat(f Format) Option {
	return func(c *config) {
		c.format = f
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

// New opens the pool poolName, keeping records in stateDir/poolName. The
// pool must already exist; its capacity is read once here.
func New(ctx context.Context, client Client, poolName, stateDir string, opts ...Option) (*Backend, error) {
	cfg := config{
		format: FormatRaw,
		fs:     afero.NewOsFs(),
		codec:  recordstore.YAMLCodec{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if poolName == "" {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil, "pool name is required")
	}
	if stateDir == "" {
		return nil, backend.ConfigError(Kind, backend.OpInit, nil, "state directory is required")
	}
	if err := cfg.format.Validate(); err != nil {
		return nil, backend.ConfigError(Kind, backend.OpInit, err, "invalid configuration for pool %s", poolName)
	}

	pool, err := client.StoragePoolLookupByName(poolName)
	if err != nil {
		return nil, backend.ConfigError(Kind, backend.OpInit, err, "pool not found: %s", poolName)
	}

	_, capacity, _, _, err := client.StoragePoolGetInfo(pool)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to get info for pool %s", poolName)
	}

	records, err := recordstore.NewFileStore[volume.Summary](
		cfg.fs, filepath.Join(stateDir, poolName), recordstore.WithCodec(cfg.codec))
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to open record store")
	}

	log.Ctx(ctx).Debug().
		Str("pool", poolName).
		Str("format", string(cfg.format)).
		Uint64("capacity", capacity).
		Msg("opened libvirt pool backend")

	return &Backend{
		client:   client,
		pool:     pool,
		format:   cfg.format,
		records:  records,
		capacity: capacity,
	}, nil
}

// Kind returns "libvirt".
func (b *Backend) Kind() string {
	return Kind
}

// PoolName returns the libvirt pool name.
func (b *Backend) PoolName() string {
	return b.pool.Name
}

// State refreshes the pool and returns its libvirt state name.
func (b *Backend) State(ctx context.Context) (string, error) {
	if err := b.client.StoragePoolRefresh(b.pool, 0); err != nil {
		return "", backend.BackendError(Kind, backend.OpUsage, err, "failed to refresh pool %s", b.pool.Name)
	}
	state, _, _, _, err := b.client.StoragePoolGetInfo(b.pool)
	if err != nil {
		return "", backend.BackendError(Kind, backend.OpUsage, err, "failed to get info for pool %s", b.pool.Name)
	}
	return PoolState(state), nil
}

func volumeName(id uuid.UUID) string {
	return "vol-" + id.String()
}

// Capacity returns the pool capacity read at construction.
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

// record stores the volume for a newly created libvirt volume, deleting the
// libvirt volume again if the path or record cannot be written.
func (b *Backend) record(op, name string, id uuid.UUID, size uint64, volType string, sv libvirt.StorageVol) (*volume.Volume, error) {
	path, err := b.client.StorageVolGetPath(sv)
	if err != nil {
		_ = b.client.StorageVolDelete(sv, 0)
		return nil, backend.BackendError(Kind, op, err, "failed to get path for volume %s", name)
	}

	vol := volume.New(id, name, size, path)
	vol.Type = volType
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		_ = b.client.StorageVolDelete(sv, 0)
		return nil, backend.BackendError(Kind, op, err, "failed to record volume %s", name)
	}
	return vol, nil
}

// CreateVolume creates a libvirt volume of size bytes.
func (b *Backend) CreateVolume(ctx context.Context, size uint64, name string) (*volume.Volume, error) {
	free, err := b.FreeSpace()
	if err != nil {
		return nil, err
	}
	if size > free {
		return nil, backend.CapacityError(Kind, backend.OpCreate, name, size, free)
	}

	id := volume.DeriveID(Namespace, name)
	xml, err := volumeXML(volumeName(id), size, b.format, "", "")
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to generate XML for volume %s", name)
	}

	sv, err := b.client.StorageVolCreateXML(b.pool, xml, 0)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to create volume %s", name)
	}

	vol, err := b.record(backend.OpCreate, name, id, size, volume.TypeBase, sv)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("pool", b.pool.Name).Str("volume", name).Stringer("id", id).Uint64("size", size).Msg("created volume")
	return vol, nil
}

func (b *Backend) lookup(op string, vol *volume.Volume) (libvirt.StorageVol, error) {
	sv, err := b.client.StorageVolLookupByName(b.pool, volumeName(vol.ID))
	if err != nil {
		return libvirt.StorageVol{}, backend.BackendError(Kind, op, err, "volume not found: %s", vol.Name)
	}
	return sv, nil
}

// DeleteVolume deletes the libvirt volume and then its record.
func (b *Backend) DeleteVolume(ctx context.Context, vol *volume.Volume) error {
	sv, err := b.lookup(backend.OpDelete, vol)
	if err != nil {
		return err
	}
	if err := b.client.StorageVolDelete(sv, 0); err != nil {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to delete volume %s", vol.Name)
	}

	if err := b.records.Delete(vol.Key()); err != nil && !errors.Is(err, recordstore.ErrNotFound) {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove record for volume %s", vol.Name)
	}

	log.Ctx(ctx).Info().Str("pool", b.pool.Name).Str("volume", vol.Name).Msg("deleted volume")
	return nil
}

// GrowVolume resizes the libvirt volume by size bytes.
func (b *Backend) GrowVolume(ctx context.Context, vol *volume.Volume, size uint64) error {
	free, err := b.FreeSpace()
	if err != nil {
		return err
	}
	if size > free {
		return backend.CapacityError(Kind, backend.OpGrow, vol.Name, size, free)
	}

	sv, err := b.lookup(backend.OpGrow, vol)
	if err != nil {
		return err
	}
	if err := b.client.StorageVolResize(sv, size, libvirt.StorageVolResizeDelta); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to resize volume %s", vol.Name)
	}

	grown := *vol
	grown.Size = vol.Size + size
	if err := b.records.Set(grown.Key(), grown.Summary()); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to record volume %s", vol.Name)
	}
	vol.Size = grown.Size

	log.Ctx(ctx).Info().Str("pool", b.pool.Name).Str("volume", vol.Name).Uint64("size", vol.Size).Msg("grew volume")
	return nil
}

// CloneVolume copies the volume with StorageVolCreateXMLFrom.
func (b *Backend) CloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	id, err := b.prepareClone(backend.OpClone, vol, name)
	if err != nil {
		return nil, err
	}

	src, err := b.lookup(backend.OpClone, vol)
	if err != nil {
		return nil, err
	}

	xml, err := volumeXML(volumeName(id), vol.Size, b.format, "", "")
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpClone, err, "failed to generate XML for volume %s", name)
	}

	sv, err := b.client.StorageVolCreateXMLFrom(b.pool, xml, src, 0)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpClone, err, "failed to clone volume %s to %s", vol.Name, name)
	}

	clone, err := b.record(backend.OpClone, name, id, vol.Size, vol.Type, sv)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("pool", b.pool.Name).Str("volume", vol.Name).Str("clone", name).Msg("cloned volume")
	return clone, nil
}

// ShallowCloneVolume creates a qcow2 overlay backed by the source volume.
// Raw pools have no overlay format and fall back to CloneVolume.
func (b *Backend) ShallowCloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	if b.format != FormatQCOW2 {
		return b.CloneVolume(ctx, vol, name)
	}

	id, err := b.prepareClone(backend.OpShallowClone, vol, name)
	if err != nil {
		return nil, err
	}

	xml, err := volumeXML(volumeName(id), vol.Size, FormatQCOW2, vol.Path, b.format)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpShallowClone, err, "failed to generate XML for volume %s", name)
	}

	sv, err := b.client.StorageVolCreateXML(b.pool, xml, 0)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpShallowClone, err, "failed to create overlay %s", name)
	}

	clone, err := b.record(backend.OpShallowClone, name, id, vol.Size, vol.Type, sv)
	if err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("pool", b.pool.Name).Str("volume", vol.Name).Str("clone", name).Msg("created overlay volume")
	return clone, nil
}

func (b *Backend) prepareClone(op string, vol *volume.Volume, name string) (uuid.UUID, error) {
	id := volume.DeriveID(Namespace, name)
	if id == vol.ID {
		return uuid.Nil, backend.BackendError(Kind, op, nil, "clone name %q must differ from the source volume", name)
	}

	free, err := b.FreeSpace()
	if err != nil {
		return uuid.Nil, err
	}
	if vol.Size > free {
		return uuid.Nil, backend.CapacityError(Kind, op, name, vol.Size, free)
	}
	return id, nil
}

// OpenVolume is not supported; libvirt volumes are accessed through the
// hypervisor.
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

var (
	_ backend.Backend       = (*Backend)(nil)
	_ backend.ShallowCloner = (*Backend)(nil)
)
