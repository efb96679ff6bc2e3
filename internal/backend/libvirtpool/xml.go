package libvirtpool

import (
	"fmt"
	"strings"

	libvirtxml "libvirt.org/go/libvirtxml"
)

// Format is a libvirt volume format.
type Format string

const (
	FormatRaw   Format = "raw"
	FormatQCOW2 Format = "qcow2"
)

// Validate checks the format is one the backend can create.
func (f Format) Validate() error {
	switch f {
	case FormatRaw, FormatQCOW2:
		return nil
	default:
		return fmt.Errorf("invalid volume format: %s (must be qcow2 or raw)", f)
	}
}

// volumeXML renders a storage volume definition. backingPath, when set,
// makes the volume a qcow2 overlay on top of that file.
func volumeXML(name string, capacity uint64, format Format, backingPath string, backingFormat Format) (string, error) {
	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: capacity,
			Unit:  "B",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(format),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Mode: "0644",
			},
		},
	}

	if backingPath != "" {
		vol.BackingStore = &libvirtxml.StorageVolumeBackingStore{
			Path: backingPath,
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(backingFormat),
			},
		}
	}

	out, err := vol.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal volume XML: %w", err)
	}

	xml := strings.TrimPrefix(out, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>")
	return strings.TrimSpace(xml), nil
}
