package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/volume"
)

func newBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New()
	require.NoError(t, err)
	return b
}

func TestCreateVolume(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "test")
	require.NoError(t, err)

	assert.Equal(t, uint64(1024), vol.Size)
	assert.Equal(t, "test", vol.Name)
	assert.Equal(t, volume.TypeBase, vol.Type)
	assert.True(t, strings.HasPrefix(vol.Path, "mem://vol-"))

	n, err := b.BufferLen(vol)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)

	used, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), used)

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	require.Len(t, vols, 1)
	assert.Equal(t, vol.ID, vols[0].ID)
}

func TestCreateVolume_RandomIdentity(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	a, err := b.CreateVolume(ctx, 1, "same")
	require.NoError(t, err)
	c, err := b.CreateVolume(ctx, 1, "same")
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, c.ID)
}

func TestDeleteVolume(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	before, err := b.UsedSpace()
	require.NoError(t, err)

	vol, err := b.CreateVolume(ctx, 1024, "test")
	require.NoError(t, err)
	require.NoError(t, b.DeleteVolume(ctx, vol))

	after, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = b.BufferLen(vol)
	assert.Error(t, err)

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func TestDeleteVolume_Unknown(t *testing.T) {
	b := newBackend(t)
	vol := volume.New(uuid.New(), "ghost", 1, "")

	err := b.DeleteVolume(context.Background(), vol)
	assert.ErrorIs(t, err, backend.ErrBackend)
}

func TestGrowVolume(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "test")
	require.NoError(t, err)

	require.NoError(t, b.GrowVolume(ctx, vol, 1024))
	assert.Equal(t, uint64(2048), vol.Size)

	n, err := b.BufferLen(vol)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)

	used, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), used)
}

func TestGrowVolume_KeepsContents(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 8, "test")
	require.NoError(t, err)

	h, err := b.OpenVolume(ctx, vol)
	require.NoError(t, err)
	_, err = h.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.NoError(t, b.GrowVolume(ctx, vol, 8))

	h, err = b.OpenVolume(ctx, vol)
	require.NoError(t, err)
	defer func() { _ = h.Close() }()
	got, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Len(t, got, 16)
	assert.Equal(t, "data", string(got[:4]))
	assert.Equal(t, make([]byte, 12), got[4:])
}

func TestGrowVolume_DetectsDrift(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "test")
	require.NoError(t, err)

	h, err := b.OpenVolume(ctx, vol)
	require.NoError(t, err)
	require.NoError(t, h.Truncate(10))
	require.NoError(t, h.Close())

	err = b.GrowVolume(ctx, vol, 1024)
	assert.ErrorIs(t, err, backend.ErrBackend)
	assert.Equal(t, uint64(1024), vol.Size)
}

func TestCloneVolume(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "test")
	require.NoError(t, err)

	h, err := b.OpenVolume(ctx, vol)
	require.NoError(t, err)
	_, err = h.Write([]byte("orig"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	clone, err := b.CloneVolume(ctx, vol, "clone")
	require.NoError(t, err)
	assert.NotEqual(t, vol.ID, clone.ID)
	assert.Equal(t, vol.Size, clone.Size)
	assert.Equal(t, "clone", clone.Name)

	// Mutating the clone leaves the source alone
	ch, err := b.OpenVolume(ctx, clone)
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(ch, buf)
	require.NoError(t, err)
	assert.Equal(t, "orig", string(buf))
	_, err = ch.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = ch.Write([]byte("new!"))
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	sh, err := b.OpenVolume(ctx, vol)
	require.NoError(t, err)
	defer func() { _ = sh.Close() }()
	_, err = io.ReadFull(sh, buf)
	require.NoError(t, err)
	assert.Equal(t, "orig", string(buf))

	used, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), used)
}

func TestShallowCloneFallsBack(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 64, "test")
	require.NoError(t, err)

	clone, err := backend.ShallowClone(ctx, b, vol, "shallow")
	require.NoError(t, err)
	assert.Equal(t, vol.Size, clone.Size)
	assert.NotEqual(t, vol.ID, clone.ID)
}

func TestHostAttachNotSupported(t *testing.T) {
	ctx := context.Background()
	b := newBackend(t)

	vol, err := b.CreateVolume(ctx, 64, "test")
	require.NoError(t, err)

	_, err = b.HostAttach(ctx, vol)
	assert.ErrorIs(t, err, backend.ErrNotSupported)
	assert.ErrorIs(t, b.HostDetach(ctx, vol), backend.ErrNotSupported)

	called := false
	err = backend.Attach(ctx, b, vol, func(context.Context, string) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, backend.ErrNotSupported)
	assert.False(t, called)
}

func TestCapacityUnbounded(t *testing.T) {
	b := newBackend(t)

	capacity, err := b.Capacity()
	require.NoError(t, err)
	assert.Equal(t, backend.UnboundedCapacity, capacity)

	_, err = b.CreateVolume(context.Background(), 100, "x")
	require.NoError(t, err)

	free, err := b.FreeSpace()
	require.NoError(t, err)
	assert.Equal(t, backend.UnboundedCapacity-100, free)
}
