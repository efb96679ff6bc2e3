package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configYAML := `log_level: DEBUG
state_dir: /tmp/ingot
default_volume_size: 1GB
libvirt:
  timeout: 10s
pools:
  - name: Scratch
    backend: memory
  - name: files
    backend: flatfile
    path: /srv/ingot
    sudo: true
    command_timeout: 2s
  - name: fast
    backend: lvm
    volume_group: vg0
  - name: images
    backend: libvirt
    libvirt_pool: default
`
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0644))

	config, err := LoadFromFile(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, datasize.GB, config.DefaultVolumeSize)
	assert.Equal(t, 10*time.Second, config.Libvirt.Timeout)
	assert.Equal(t, DefaultLibvirtSocket, config.Libvirt.Socket)
	require.Len(t, config.Pools, 4)

	// names are normalized and the state dir is copied to every pool
	scratch := config.Pools[0]
	assert.Equal(t, "scratch", scratch.Name)
	assert.Equal(t, "/tmp/ingot", scratch.StateDir)

	files := config.Pools[1]
	assert.True(t, files.Sudo)
	assert.Equal(t, 2*time.Second, files.CommandTimeout)

	images, err := config.Pool("images")
	require.NoError(t, err)
	assert.Equal(t, "raw", images.Format)
}

func TestLoadFromYAML_Defaults(t *testing.T) {
	config, err := LoadFromYAML([]byte("pools:\n  - name: m\n    backend: memory\n"))
	require.NoError(t, err)

	assert.Equal(t, DefaultStateDir, config.StateDir)
	assert.Equal(t, DefaultVolumeSize, config.DefaultVolumeSize)
}

func TestLoadFromFile_Missing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFromYAML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no pools",
			yaml:    "log_level: info\n",
			wantErr: "at least one pools entry",
		},
		{
			name:    "missing backend",
			yaml:    "pools:\n  - name: a\n",
			wantErr: "backend is required",
		},
		{
			name:    "unknown backend",
			yaml:    "pools:\n  - name: a\n    backend: zfs\n",
			wantErr: "unknown backend",
		},
		{
			name:    "flatfile without path",
			yaml:    "pools:\n  - name: a\n    backend: flatfile\n",
			wantErr: "path is required",
		},
		{
			name:    "lvm without volume group",
			yaml:    "pools:\n  - name: a\n    backend: lvm\n",
			wantErr: "volume_group is required",
		},
		{
			name:    "libvirt bad format",
			yaml:    "pools:\n  - name: a\n    backend: libvirt\n    libvirt_pool: default\n    format: vmdk\n",
			wantErr: "format must be raw or qcow2",
		},
		{
			name:    "duplicate names",
			yaml:    "pools:\n  - name: a\n    backend: memory\n  - name: A\n    backend: memory\n",
			wantErr: "duplicate pool name",
		},
		{
			name:    "bad name",
			yaml:    "pools:\n  - name: -a\n    backend: memory\n",
			wantErr: "name must start and end",
		},
		{
			name:    "bad log format",
			yaml:    "log_format: xml\npools:\n  - name: a\n    backend: memory\n",
			wantErr: "log_format",
		},
		{
			name:    "bad size",
			yaml:    "default_volume_size: lots\npools:\n  - name: a\n    backend: memory\n",
			wantErr: "failed to parse YAML",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Pool_NotFound(t *testing.T) {
	c := &Config{Pools: []PoolConfig{{Name: "a", Backend: BackendMemory}}}
	_, err := c.Pool("b")
	assert.Error(t, err)
}
