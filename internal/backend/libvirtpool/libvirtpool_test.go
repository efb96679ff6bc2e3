package libvirtpool

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/ingot/internal/backend"
	"github.com/jbweber/ingot/internal/volume"
)

const (
	testPool     = "ingot-test"
	testCapacity = 100 << 30
)

func newBackend(t *testing.T, opts ...Option) (*Backend, *mockClient) {
	t.Helper()
	client := newMockClient()
	client.addPool(testPool, testCapacity)
	opts = append([]Option{WithFs(afero.NewMemMapFs())}, opts...)
	b, err := New(context.Background(), client, testPool, "/var/lib/ingot", opts...)
	require.NoError(t, err)
	return b, client
}

func TestNew(t *testing.T) {
	b, _ := newBackend(t)

	assert.Equal(t, Kind, b.Kind())
	assert.Equal(t, testPool, b.PoolName())

	capacity, err := b.Capacity()
	require.NoError(t, err)
	assert.Equal(t, uint64(testCapacity), capacity)
}

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
		opts     []Option
		wantKind backend.Kind
	}{
		{
			name:     "missing pool",
			poolName: "nope",
			wantKind: backend.KindConfig,
		},
		{
			name:     "empty pool name",
			poolName: "",
			wantKind: backend.KindConfig,
		},
		{
			name:     "bad format",
			poolName: testPool,
			opts:     []Option{WithFormat("vmdk")},
			wantKind: backend.KindConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient()
			client.addPool(testPool, testCapacity)
			opts := append([]Option{WithFs(afero.NewMemMapFs())}, tt.opts...)

			_, err := New(context.Background(), client, tt.poolName, "/state", opts...)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, backend.KindOf(err))
		})
	}
}

func TestState(t *testing.T) {
	b, client := newBackend(t)

	state, err := b.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "running", state)
	assert.Equal(t, 1, client.pools[testPool].refreshes)
}

func TestPoolState(t *testing.T) {
	assert.Equal(t, "inactive", PoolState(uint8(libvirt.StoragePoolInactive)))
	assert.Equal(t, "running", PoolState(uint8(libvirt.StoragePoolRunning)))
	assert.Equal(t, "unknown", PoolState(200))
}

func TestCreateVolume(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1<<30, "data")
	require.NoError(t, err)

	id := volume.DeriveID(Namespace, "data")
	assert.Equal(t, id, vol.ID)
	assert.Equal(t, uint64(1<<30), vol.Size)

	mv := client.volumes[testPool]["vol-"+id.String()]
	require.NotNil(t, mv)
	assert.Equal(t, mv.path, vol.Path)
	assert.Equal(t, uint64(1<<30), mv.capacity)
	assert.Equal(t, "raw", mv.format)

	used, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<30), used)
}

func TestCreateVolume_Capacity(t *testing.T) {
	b, client := newBackend(t)

	_, err := b.CreateVolume(context.Background(), testCapacity+1, "huge")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrCapacity)
	assert.Empty(t, client.volumes[testPool])
}

func TestCreateVolume_LibvirtFails(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)
	client.fail["StorageVolCreateXML"] = errors.New("internal error")

	_, err := b.CreateVolume(ctx, 1024, "data")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackend)

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func TestDeleteVolume(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "data")
	require.NoError(t, err)
	require.NoError(t, b.DeleteVolume(ctx, vol))

	assert.Empty(t, client.volumes[testPool])
	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	assert.Empty(t, vols)
}

func TestDeleteVolume_FailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "data")
	require.NoError(t, err)

	client.fail["StorageVolDelete"] = errors.New("volume busy")
	err = b.DeleteVolume(ctx, vol)
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrBackend)

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	assert.Len(t, vols, 1)
}

func TestGrowVolume(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "data")
	require.NoError(t, err)
	require.NoError(t, b.GrowVolume(ctx, vol, 1024))

	assert.Equal(t, uint64(2048), vol.Size)
	mv := client.volumes[testPool]["vol-"+vol.ID.String()]
	assert.Equal(t, uint64(2048), mv.capacity)
	assert.Equal(t, libvirt.StorageVolResizeDelta, mv.resizeFlags)

	used, err := b.UsedSpace()
	require.NoError(t, err)
	assert.Equal(t, uint64(2048), used)
}

func TestCloneVolume(t *testing.T) {
	ctx := context.Background()
	b, client := newBackend(t)

	vol, err := b.CreateVolume(ctx, 1024, "base")
	require.NoError(t, err)

	clone, err := b.CloneVolume(ctx, vol, "copy")
	require.NoError(t, err)

	assert.Equal(t, vol.Size, clone.Size)
	mv := client.volumes[testPool]["vol-"+clone.ID.String()]
	require.NotNil(t, mv)
	assert.Equal(t, "vol-"+vol.ID.String(), mv.clonedFrom)

	_, err = b.CloneVolume(ctx, vol, "base")
	assert.ErrorIs(t, err, backend.ErrBackend)
}

func TestShallowClone(t *testing.T) {
	tests := []struct {
		name        string
		format      Format
		wantBacking bool
	}{
		{name: "qcow2 overlay", format: FormatQCOW2, wantBacking: true},
		{name: "raw falls back to full clone", format: FormatRaw, wantBacking: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			b, client := newBackend(t, WithFormat(tt.format))

			vol, err := b.CreateVolume(ctx, 1024, "base")
			require.NoError(t, err)

			clone, err := backend.ShallowClone(ctx, b, vol, "overlay")
			require.NoError(t, err)

			mv := client.volumes[testPool]["vol-"+clone.ID.String()]
			require.NotNil(t, mv)
			if tt.wantBacking {
				assert.Equal(t, vol.Path, mv.backingPath)
				assert.Equal(t, "qcow2", mv.format)
				assert.Empty(t, mv.clonedFrom)
			} else {
				assert.Empty(t, mv.backingPath)
				assert.Equal(t, "vol-"+vol.ID.String(), mv.clonedFrom)
			}
		})
	}
}

func TestCloneVolume_RecordsSourceType(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t, WithFormat(FormatQCOW2))

	vol, err := b.CreateVolume(ctx, 1024, "base")
	require.NoError(t, err)
	vol.Type = "golden"

	full, err := b.CloneVolume(ctx, vol, "full")
	require.NoError(t, err)
	overlay, err := b.ShallowCloneVolume(ctx, vol, "overlay")
	require.NoError(t, err)
	assert.Equal(t, "golden", full.Type)
	assert.Equal(t, "golden", overlay.Type)

	vols, err := b.Volumes(ctx)
	require.NoError(t, err)
	types := map[string]string{}
	for _, v := range vols {
		types[v.Name] = v.Type
	}
	assert.Equal(t, map[string]string{
		"base":    volume.TypeBase,
		"full":    "golden",
		"overlay": "golden",
	}, types)
}

func TestVolumeXML(t *testing.T) {
	xml, err := volumeXML("vol-x", 4096, FormatQCOW2, "/images/base", FormatQCOW2)
	require.NoError(t, err)

	assert.False(t, strings.HasPrefix(xml, "<?xml"))
	assert.Contains(t, xml, "<name>vol-x</name>")
	assert.Contains(t, xml, `<capacity unit="B">4096</capacity>`)
	assert.Contains(t, xml, "<backingStore>")
	assert.Contains(t, xml, "<path>/images/base</path>")
}

func TestUnsupportedOperations(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t)
	vol, err := b.CreateVolume(ctx, 1024, "data")
	require.NoError(t, err)

	_, err = b.OpenVolume(ctx, vol)
	assert.ErrorIs(t, err, backend.ErrNotSupported)

	_, err = b.HostAttach(ctx, vol)
	assert.ErrorIs(t, err, backend.ErrNotSupported)

	assert.ErrorIs(t, b.HostDetach(ctx, vol), backend.ErrNotSupported)
}
