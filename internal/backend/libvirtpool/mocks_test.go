package libvirtpool

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// mockClient is an in-memory libvirt storage API.
type mockClient struct {
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume

	// failures injected by tests, keyed by method name
	fail map[string]error
}

type mockPool struct {
	name      string
	state     libvirt.StoragePoolState
	capacity  uint64
	refreshes int
}

type mockVolume struct {
	name        string
	path        string
	format      string
	capacity    uint64
	backingPath string
	clonedFrom  string
	resizeFlags libvirt.StorageVolResizeFlags
}

func newMockClient() *mockClient {
	return &mockClient{
		pools:   make(map[string]*mockPool),
		volumes: make(map[string]map[string]*mockVolume),
		fail:    make(map[string]error),
	}
}

func (m *mockClient) addPool(name string, capacity uint64) {
	m.pools[name] = &mockPool{name: name, state: libvirt.StoragePoolRunning, capacity: capacity}
	m.volumes[name] = make(map[string]*mockVolume)
}

func (m *mockClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	if _, ok := m.pools[name]; !ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool not found: %s", name)
	}
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockClient) StoragePoolGetInfo(pool libvirt.StoragePool) (rState uint8, rCapacity uint64, rAllocation uint64, rAvailable uint64, err error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, 0, 0, 0, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	var allocated uint64
	for _, v := range m.volumes[pool.Name] {
		allocated += v.capacity
	}
	return uint8(p.state), p.capacity, allocated, p.capacity - allocated, nil
}

func (m *mockClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	p, ok := m.pools[pool.Name]
	if !ok {
		return fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	p.refreshes++
	return nil
}

func (m *mockClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage pool not found: %s", pool.Name)
	}
	if _, ok := vols[name]; !ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage volume not found: %s", name)
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockClient) create(pool libvirt.StoragePool, xml string) (*mockVolume, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return nil, fmt.Errorf("storage pool not found: %s", pool.Name)
	}

	var def libvirtxml.StorageVolume
	if err := def.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("invalid volume XML: %w", err)
	}
	if def.Name == "" {
		return nil, fmt.Errorf("invalid volume XML: missing name")
	}
	if _, ok := vols[def.Name]; ok {
		return nil, fmt.Errorf("storage volume already exists: %s", def.Name)
	}

	vol := &mockVolume{
		name: def.Name,
		path: "/var/lib/libvirt/images/" + pool.Name + "/" + def.Name,
	}
	if def.Capacity != nil {
		vol.capacity = def.Capacity.Value
	}
	if def.Target != nil && def.Target.Format != nil {
		vol.format = def.Target.Format.Type
	}
	if def.BackingStore != nil {
		vol.backingPath = def.BackingStore.Path
	}
	vols[def.Name] = vol
	return vol, nil
}

func (m *mockClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if err := m.fail["StorageVolCreateXML"]; err != nil {
		return libvirt.StorageVol{}, err
	}
	vol, err := m.create(pool, xml)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: vol.name}, nil
}

func (m *mockClient) StorageVolCreateXMLFrom(pool libvirt.StoragePool, xml string, clonevol libvirt.StorageVol, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	if _, err := m.StorageVolLookupByName(libvirt.StoragePool{Name: clonevol.Pool}, clonevol.Name); err != nil {
		return libvirt.StorageVol{}, err
	}
	vol, err := m.create(pool, xml)
	if err != nil {
		return libvirt.StorageVol{}, err
	}
	vol.clonedFrom = clonevol.Name
	return libvirt.StorageVol{Pool: pool.Name, Name: vol.name}, nil
}

func (m *mockClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	if err := m.fail["StorageVolDelete"]; err != nil {
		return err
	}
	vols, ok := m.volumes[vol.Pool]
	if !ok {
		return fmt.Errorf("storage pool not found: %s", vol.Pool)
	}
	if _, ok := vols[vol.Name]; !ok {
		return fmt.Errorf("storage volume not found: %s", vol.Name)
	}
	delete(vols, vol.Name)
	return nil
}

func (m *mockClient) StorageVolResize(vol libvirt.StorageVol, capacity uint64, flags libvirt.StorageVolResizeFlags) error {
	v, err := m.volume(vol)
	if err != nil {
		return err
	}
	if flags&libvirt.StorageVolResizeDelta != 0 {
		v.capacity += capacity
	} else {
		v.capacity = capacity
	}
	v.resizeFlags = flags
	return nil
}

func (m *mockClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	v, err := m.volume(vol)
	if err != nil {
		return "", err
	}
	return v.path, nil
}

func (m *mockClient) StorageVolGetInfo(vol libvirt.StorageVol) (rType int8, rCapacity uint64, rAllocation uint64, err error) {
	v, err := m.volume(vol)
	if err != nil {
		return 0, 0, 0, err
	}
	return 0, v.capacity, 0, nil
}

func (m *mockClient) volume(vol libvirt.StorageVol) (*mockVolume, error) {
	vols, ok := m.volumes[vol.Pool]
	if !ok {
		return nil, fmt.Errorf("storage pool not found: %s", vol.Pool)
	}
	v, ok := vols[vol.Name]
	if !ok {
		return nil, fmt.Errorf("storage volume not found: %s", vol.Name)
	}
	return v, nil
}
