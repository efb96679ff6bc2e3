package backend

import (
	"fmt"

	"github.com/jbweber/ingot/internal/recordstore"
	"github.com/jbweber/ingot/internal/volume"
)

// Records is the record store every backend keeps, one summary per volume
// keyed by the volume id.
type Records = recordstore.Store[volume.Summary]

// UsedBytes sums the sizes of all recorded volumes.
func UsedBytes(records Records) (uint64, error) {
	var used uint64
	err := records.Range(func(_ string, sum volume.Summary) error {
		used += sum.Size
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sum volume sizes: %w", err)
	}
	return used, nil
}

// LoadVolumes rebuilds every recorded volume.
func LoadVolumes(records Records) ([]*volume.Volume, error) {
	var vols []*volume.Volume
	err := records.Range(func(key string, sum volume.Summary) error {
		vol, err := sum.Volume()
		if err != nil {
			return fmt.Errorf("record %s: %w", key, err)
		}
		vols = append(vols, vol)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load volumes: %w", err)
	}
	return vols, nil
}
