// Package volume defines the working representation of a provisioned volume
// and the durable summary that backends persist in their record stores.
//
// A Volume is owned by the backend that created it. It carries no reference
// back to that backend; operations that need backend context (grow, clone,
// delete, open, attach) are backend methods taking the Volume as an argument.
package volume

import (
	"fmt"

	"github.com/google/uuid"
)

// TypeBase is the volume type assigned when none is given.
const TypeBase = "base"

// Volume is a handle to provisioned storage.
type Volume struct {
	ID         uuid.UUID // Unique within the owning backend
	Name       string    // Display name, not unique across backends
	Size       uint64    // Size in bytes
	Type       string    // Free-form tag, defaults to TypeBase
	Path       string    // Backend-specific locator (file path, mem:// URL, or empty)
	DevicePath string    // Host device path while attached, empty otherwise
}

// New returns a volume of type TypeBase.
func New(id uuid.UUID, name string, size uint64, path string) *Volume {
	return &Volume{
		ID:   id,
		Name: name,
		Size: size,
		Type: TypeBase,
		Path: path,
	}
}

// Attached reports whether the volume currently has a host device.
func (v *Volume) Attached() bool {
	return v.DevicePath != ""
}

// Key returns the record store key for the volume.
func (v *Volume) Key() string {
	return v.ID.String()
}

func (v *Volume) String() string {
	return fmt.Sprintf("Volume %s (%s) of size %d", v.Name, v.ID, v.Size)
}

// Summary returns the durable projection of the volume.
func (v *Volume) Summary() Summary {
	volumeType := v.Type
	if volumeType == "" {
		volumeType = TypeBase
	}
	return Summary{
		Name:       v.Name,
		VolumeID:   v.ID.String(),
		Size:       v.Size,
		VolumeType: volumeType,
		Path:       v.Path,
		DevicePath: v.DevicePath,
	}
}

// Summary is the record written to a backend's record store. The field names
// are part of the on-disk format.
type Summary struct {
	Name       string `yaml:"name" json:"name"`
	VolumeID   string `yaml:"volume_id" json:"volume_id"`
	Size       uint64 `yaml:"size" json:"size"`
	VolumeType string `yaml:"volume_type" json:"volume_type"`
	Path       string `yaml:"path" json:"path"`
	DevicePath string `yaml:"device_path,omitempty" json:"device_path,omitempty"`
}

// Volume rebuilds a working Volume from a stored summary.
func (s Summary) Volume() (*Volume, error) {
	id, err := uuid.Parse(s.VolumeID)
	if err != nil {
		return nil, fmt.Errorf("invalid volume id %q: %w", s.VolumeID, err)
	}
	volumeType := s.VolumeType
	if volumeType == "" {
		volumeType = TypeBase
	}
	return &Volume{
		ID:         id,
		Name:       s.Name,
		Size:       s.Size,
		Type:       volumeType,
		Path:       s.Path,
		DevicePath: s.DevicePath,
	}, nil
}
