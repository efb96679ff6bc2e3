// Package pool wraps a backend with the in-process bookkeeping of the
// volumes allocated from it.
package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/volume"
)

// Pool is a named storage pool backed by one backend. It tracks every
// allocation by id; the backend's record store remains the durable copy.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	Name    string
	Backend backend.Backend

	allocations map[uuid.UUID]*volume.Volume
}

// Summary describes a pool's usage.
type Summary struct {
	Name     string `json:"name" yaml:"name"`
	Kind     string `json:"kind" yaml:"kind"`
	Volumes  int    `json:"volumes" yaml:"volumes"`
	Capacity uint64 `json:"capacity" yaml:"capacity"`
	Used     uint64 `json:"used" yaml:"used"`
	Free     uint64 `json:"free" yaml:"free"`
}

// Unbounded reports whether the pool has no capacity ceiling.
func (s Summary) Unbounded() bool {
	return s.Capacity == backend.UnboundedCapacity
}

// New wraps b and replays the volumes it has recorded.
func New(ctx context.Context, name string, b backend.Backend) (*Pool, error) {
	vols, err := b.Volumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load volumes for pool %s: %w", name, err)
	}

	p := &Pool{
		Name:        name,
		Backend:     b,
		allocations: make(map[uuid.UUID]*volume.Volume, len(vols)),
	}
	for _, vol := range vols {
		p.allocations[vol.ID] = vol
	}
	return p, nil
}

func (p *Pool) String() string {
	return fmt.Sprintf("%s (%s, %d volumes)", p.Name, p.Backend.Kind(), len(p.allocations))
}

// Allocate creates a volume of size bytes.
func (p *Pool) Allocate(ctx context.Context, name string, size uint64) (*volume.Volume, error) {
	vol, err := p.Backend.CreateVolume(ctx, size, name)
	if err != nil {
		return nil, err
	}
	p.allocations[vol.ID] = vol
	return vol, nil
}

// Deallocate deletes vol. The allocation is kept when the backend fails.
func (p *Pool) Deallocate(ctx context.Context, vol *volume.Volume) error {
	if err := p.Backend.DeleteVolume(ctx, vol); err != nil {
		return err
	}
	delete(p.allocations, vol.ID)
	return nil
}

// Grow extends vol by size bytes.
func (p *Pool) Grow(ctx context.Context, vol *volume.Volume, size uint64) error {
	return p.Backend.GrowVolume(ctx, vol, size)
}

// Clone makes a full copy of vol named name.
func (p *Pool) Clone(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	clone, err := p.Backend.CloneVolume(ctx, vol, name)
	if err != nil {
		return nil, err
	}
	p.allocations[clone.ID] = clone
	return clone, nil
}

// ShallowClone clones vol as cheaply as the backend allows.
func (p *Pool) ShallowClone(ctx context.Context, vol *volume.Volume, name string) (*volume.Volume, error) {
	clone, err := backend.ShallowClone(ctx, p.Backend, vol, name)
	if err != nil {
		return nil, err
	}
	p.allocations[clone.ID] = clone
	return clone, nil
}

// Open returns a read/write handle over vol.
func (p *Pool) Open(ctx context.Context, vol *volume.Volume) (backend.Handle, error) {
	return p.Backend.OpenVolume(ctx, vol)
}

// Attach runs fn with vol attached to the host. See backend.Attach.
func (p *Pool) Attach(ctx context.Context, vol *volume.Volume, fn backend.AttachFunc) error {
	return backend.Attach(ctx, p.Backend, vol, fn)
}

// Get returns the allocation with the given id.
func (p *Pool) Get(id uuid.UUID) (*volume.Volume, bool) {
	vol, ok := p.allocations[id]
	return vol, ok
}

// Lookup finds an allocation by name. Names are unique for backends that
// derive ids from names; for others the first match in id order wins.
func (p *Pool) Lookup(name string) (*volume.Volume, error) {
	for _, vol := range p.List() {
		if vol.Name == name {
			return vol, nil
		}
	}
	return nil, fmt.Errorf("volume %q not found in pool %s", name, p.Name)
}

// List returns the allocations sorted by name, then id.
func (p *Pool) List() []*volume.Volume {
	vols := make([]*volume.Volume, 0, len(p.allocations))
	for _, vol := range p.allocations {
		vols = append(vols, vol)
	}
	sort.Slice(vols, func(i, j int) bool {
		if vols[i].Name != vols[j].Name {
			return vols[i].Name < vols[j].Name
		}
		return vols[i].ID.String() < vols[j].ID.String()
	})
	return vols
}

// Usage is the total size of the allocations.
func (p *Pool) Usage() uint64 {
	var used uint64
	for _, vol := range p.allocations {
		used += vol.Size
	}
	return used
}

// Summary reports the pool's capacity and usage.
func (p *Pool) Summary() (Summary, error) {
	capacity, err := p.Backend.Capacity()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to get capacity for pool %s: %w", p.Name, err)
	}

	used := p.Usage()
	return Summary{
		Name:     p.Name,
		Kind:     p.Backend.Kind(),
		Volumes:  len(p.allocations),
		Capacity: capacity,
		Used:     used,
		Free:     backend.FreeSpace(capacity, used),
	}, nil
}
