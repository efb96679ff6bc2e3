// Package memory implements a volatile backend that keeps every volume in a
// process-local byte buffer. Nothing survives the process; it exists for
// tests and throwaway volumes.
package memory

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/recordstore"
	"github.com/jbweber/ingot/internal/volume"
)

// Kind is the backend kind name.
const Kind = "memory"

// Backend stores volumes in memory.
type Backend struct {
	buffers afero.Fs
	records backend.Records
}

// New returns an empty memory backend.
func New() (*Backend, error) {
	records, err := recordstore.NewFileStore[volume.Summary](afero.NewMemMapFs(), "/records")
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpInit, err, "failed to create record store")
	}

	return &Backend{
		buffers: afero.NewMemMapFs(),
		records: records,
	}, nil
}

// Kind returns "memory".
func (b *Backend) Kind() string {
	return Kind
}

func bufferName(id uuid.UUID) string {
	return "/vol-" + id.String()
}

func locator(id uuid.UUID) string {
	return "mem://vol-" + id.String()
}

func toInt64(op string, size uint64) (int64, error) {
	if size > math.MaxInt64 {
		return 0, backend.BackendError(Kind, op, nil, "size %d out of range", size)
	}
	return int64(size), nil
}

// CreateVolume allocates size zero bytes.
func (b *Backend) CreateVolume(ctx context.Context, size uint64, name string) (*volume.Volume, error) {
	n, err := toInt64(backend.OpCreate, size)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if err := b.allocate(id, n, nil); err != nil {
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to allocate volume %s", name)
	}

	vol := volume.New(id, name, size, locator(id))
	if err := b.records.Set(vol.Key(), vol.Summary()); err != nil {
		_ = b.buffers.Remove(bufferName(id))
		return nil, backend.BackendError(Kind, backend.OpCreate, err, "failed to record volume %s", name)
	}

	log.Ctx(ctx).Debug().Str("volume", name).Stringer("id", id).Uint64("size", size).Msg("created memory volume")
	return vol, nil
}

// allocate creates a buffer of exactly size bytes, filled from data when
// given and zeroes otherwise.
func (b *Backend) allocate(id uuid.UUID, size int64, data []byte) error {
	f, err := b.buffers.Create(bufferName(id))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if len(data) > 0 {
		if _, err := f.Write(data); err != nil {
			return err
		}
	}
	return f.Truncate(size)
}

// DeleteVolume discards the volume's buffer and record.
func (b *Backend) DeleteVolume(ctx context.Context, vol *volume.Volume) error {
	if err := b.buffers.Remove(bufferName(vol.ID)); err != nil {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to release volume %s", vol.Name)
	}
	if err := b.records.Delete(vol.Key()); err != nil {
		return backend.BackendError(Kind, backend.OpDelete, err, "failed to remove record for volume %s", vol.Name)
	}

	log.Ctx(ctx).Debug().Str("volume", vol.Name).Stringer("id", vol.ID).Msg("deleted memory volume")
	return nil
}

// GrowVolume appends size zero bytes to the buffer. The resulting buffer
// length becomes the volume size and must equal the old size plus size.
func (b *Backend) GrowVolume(ctx context.Context, vol *volume.Volume, size uint64) error {
	current, err := b.BufferLen(vol)
	if err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to inspect volume %s", vol.Name)
	}
	if uint64(current) != vol.Size {
		return backend.BackendError(Kind, backend.OpGrow, nil,
			"volume %s buffer holds %d bytes but volume records %d", vol.Name, current, vol.Size)
	}

	want, err := toInt64(backend.OpGrow, vol.Size+size)
	if err != nil || vol.Size+size < vol.Size {
		return backend.BackendError(Kind, backend.OpGrow, err, "cannot grow volume %s by %d bytes", vol.Name, size)
	}

	f, err := b.buffers.OpenFile(bufferName(vol.ID), os.O_RDWR, 0)
	if err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to open volume %s", vol.Name)
	}
	if err := f.Truncate(want); err != nil {
		_ = f.Close()
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to grow volume %s", vol.Name)
	}
	if err := f.Close(); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to grow volume %s", vol.Name)
	}

	got, err := b.BufferLen(vol)
	if err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to inspect volume %s", vol.Name)
	}
	if got != want {
		return backend.BackendError(Kind, backend.OpGrow, nil,
			"volume %s grew to %d bytes, expected %d", vol.Name, got, want)
	}

	grown := *vol
	grown.Size = uint64(got)
	if err := b.records.Set(grown.Key(), grown.Summary()); err != nil {
		return backend.BackendError(Kind, backend.OpGrow, err, "failed to record volume %s", vol.Name)
	}
	vol.Size = grown.Size

	log.Ctx(ctx).Debug().Str("volume", vol.Name).Uint64("size", vol.Size).Msg("grew memory volume")
	return nil
}

// CloneVolume deep-copies the source buffer into a new volume.
func (b *Backend) CloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	data, err := afero.ReadFile(b.buffers, bufferName(vol.ID))
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpClone, err, "failed to read volume %s", vol.Name)
	}

	size, err := toInt64(backend.OpClone, vol.Size)
	if err != nil {
		return nil, err
	}

	id := uuid.New()
	if err := b.allocate(id, size, data); err != nil {
		return nil, backend.BackendError(Kind, backend.OpClone, err, "failed to allocate clone %s", name)
	}

	clone := volume.New(id, name, vol.Size, locator(id))
	clone.Type = vol.Type
	if err := b.records.Set(clone.Key(), clone.Summary()); err != nil {
		_ = b.buffers.Remove(bufferName(id))
		return nil, backend.BackendError(Kind, backend.OpClone, err, "failed to record clone %s", name)
	}

	log.Ctx(ctx).Debug().Str("volume", vol.Name).Str("clone", name).Msg("cloned memory volume")
	return clone, nil
}

// OpenVolume returns a handle over the volume's buffer. Writes through the
// handle are visible to later handles on the same volume.
func (b *Backend) OpenVolume(ctx context.Context, vol *volume.Volume) (backend.Handle, error) {
	f, err := b.buffers.OpenFile(bufferName(vol.ID), os.O_RDWR, 0)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpOpen, err, "failed to open volume %s", vol.Name)
	}
	return f, nil
}

// HostAttach is not supported: memory buffers have no host device.
func (b *Backend) HostAttach(ctx context.Context, vol *volume.Volume) (string, error) {
	return "", backend.NotSupported(Kind, backend.OpHostAttach)
}

// HostDetach is not supported.
func (b *Backend) HostDetach(ctx context.Context, vol *volume.Volume) error {
	return backend.NotSupported(Kind, backend.OpHostDetach)
}

// Capacity is unbounded.
func (b *Backend) Capacity() (uint64, error) {
	return backend.UnboundedCapacity, nil
}

// UsedSpace sums the recorded volume sizes.
func (b *Backend) UsedSpace() (uint64, error) {
	used, err := backend.UsedBytes(b.records)
	if err != nil {
		return 0, backend.BackendError(Kind, backend.OpUsage, err, "failed to compute used space")
	}
	return used, nil
}

// FreeSpace is the unbounded capacity minus used space.
func (b *Backend) FreeSpace() (uint64, error) {
	used, err := b.UsedSpace()
	if err != nil {
		return 0, err
	}
	return backend.FreeSpace(backend.UnboundedCapacity, used), nil
}

// Volumes returns all live volumes.
func (b *Backend) Volumes(ctx context.Context) ([]*volume.Volume, error) {
	vols, err := backend.LoadVolumes(b.records)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpUsage, err, "failed to list volumes")
	}
	return vols, nil
}

// BufferLen returns the current length of the volume's buffer.
func (b *Backend) BufferLen(vol *volume.Volume) (int64, error) {
	info, err := b.buffers.Stat(bufferName(vol.ID))
	if err != nil {
		return 0, fmt.Errorf("volume %s: %w", vol.Name, err)
	}
	return info.Size(), nil
}

var _ backend.Backend = (*Backend)(nil)
