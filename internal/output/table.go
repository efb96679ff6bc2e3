package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/c2h5oh/datasize"

	"github.com/jbweber/ingot/internal/pool"
	"github.com/jbweber/ingot/internal/volume"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
	// Bytes prints sizes as exact byte counts.
	Bytes bool
}

// FormatVolume formats a single volume as a table row.
func (f *TableFormatter) FormatVolume(vol volume.Summary) (string, error) {
	return f.FormatVolumeList([]volume.Summary{vol})
}

// FormatVolumeList formats a list of volumes as a table.
func (f *TableFormatter) FormatVolumeList(vols []volume.Summary) (string, error) {
	if len(vols) == 0 {
		return "No volumes found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tID\tSIZE\tTYPE\tPATH\tDEVICE")
	}

	for _, vol := range vols {
		device := vol.DevicePath
		if device == "" {
			device = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			vol.Name, vol.VolumeID, f.size(vol.Size), vol.VolumeType, vol.Path, device)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatPoolList formats pool summaries as a table.
func (f *TableFormatter) FormatPoolList(pools []pool.Summary) (string, error) {
	if len(pools) == 0 {
		return "No pools found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tBACKEND\tVOLUMES\tCAPACITY\tUSED\tFREE")
	}

	for _, p := range pools {
		capacity, free := f.size(p.Capacity), f.size(p.Free)
		if p.Unbounded() {
			capacity, free = "unbounded", "unbounded"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			p.Name, p.Kind, p.Volumes, capacity, f.size(p.Used), free)
	}

	_ = w.Flush()
	return buf.String(), nil
}

func (f *TableFormatter) size(n uint64) string {
	if f.Bytes {
		return strconv.FormatUint(n, 10)
	}
	return FormatSize(n)
}

// FormatSize renders a byte count with binary units, e.g. "1.5 GB".
func FormatSize(n uint64) string {
	return datasize.ByteSize(n).HR()
}
