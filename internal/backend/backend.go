// Package backend defines the contract every storage backend satisfies.
//
// A backend provisions volumes on one physical substrate (memory buffers,
// flat files, LVM logical volumes, libvirt pools) and keeps one durable
// volume.Summary per live volume in its record store. All sizes at this
// boundary are bytes; backends that work in other units convert internally.
//
// Operations a backend cannot perform fail with an *Error of KindNotSupported
// so that callers can branch on capability:
//
//	if errors.Is(err, backend.ErrNotSupported) {
//	    // fall back
//	}
//
// Two behaviors are implemented once here in terms of the required methods:
// ShallowClone, which falls back to CloneVolume, and Attach, which scopes a
// host attachment so that HostDetach always runs.
package backend

import (
	"context"
	"io"
	"math"

	"github.com/jbweber/ingot/internal/volume"
)

// UnboundedCapacity is reported by backends without a capacity ceiling.
const UnboundedCapacity uint64 = math.MaxUint64

// Handle is a read/write byte stream over a volume's contents, positioned at
// offset 0 when returned.
type Handle interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer
	Truncate(size int64) error
}

// Backend is a storage provisioning engine.
//
// Backends are not safe for concurrent use. Every operation runs to
// completion before returning and performs no retries.
type Backend interface {
	// Kind names the backend implementation, e.g. "flatfile".
	Kind() string

	// CreateVolume allocates size bytes under name and records it.
	CreateVolume(ctx context.Context, size uint64, name string) (*volume.Volume, error)
	// DeleteVolume releases the storage and removes the record. When the
	// release fails the record is kept.
	DeleteVolume(ctx context.Context, vol *volume.Volume) error
	// GrowVolume increases the volume's size by size bytes.
	GrowVolume(ctx context.Context, vol *volume.Volume, size uint64) error
	// CloneVolume creates an independent full copy of vol named name.
	CloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error)
	// OpenVolume returns a read/write handle over the volume's contents.
	OpenVolume(ctx context.Context, vol *volume.Volume) (Handle, error)
	// HostAttach exposes the volume as a host device and records its path.
	HostAttach(ctx context.Context, vol *volume.Volume) (string, error)
	// HostDetach reverses HostAttach and clears the recorded device path.
	HostDetach(ctx context.Context, vol *volume.Volume) error

	// Capacity is the total number of bytes the backend can provision.
	Capacity() (uint64, error)
	// UsedSpace is the sum of recorded volume sizes.
	UsedSpace() (uint64, error)
	// FreeSpace is Capacity minus UsedSpace.
	FreeSpace() (uint64, error)

	// Volumes returns every volume in the record store.
	Volumes(ctx context.Context) ([]*volume.Volume, error)
}

// ShallowCloner is implemented by backends that can clone without copying
// data up front (copy-on-write, backing files, reflinks).
type ShallowCloner interface {
	ShallowCloneVolume(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error)
}

// ShallowClone clones vol using the backend's shallow clone when it has one
// and CloneVolume otherwise. Both produce a volume that behaves as an
// independent copy; only the cost differs.
func ShallowClone(ctx context.Context, b Backend, vol *volume.Volume, name string) (*volume.Volume, error) {
	if sc, ok := b.(ShallowCloner); ok {
		return sc.ShallowCloneVolume(ctx, vol, name)
	}
	return b.CloneVolume(ctx, vol, name)
}

// FreeSpace computes capacity minus used, saturating at zero.
func FreeSpace(capacity, used uint64) uint64 {
	if used >= capacity {
		return 0
	}
	return capacity - used
}
