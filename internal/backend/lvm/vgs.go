package lvm

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/jbweber/ingot/internal/backend"
)

// VGS is the subset of a vgs report the backend uses.
type VGS struct {
	Name string
	Size uint64 // bytes
}

// VGInfo queries the volume group with vgs.
func (b *Backend) VGInfo(ctx context.Context) (*VGS, error) {
	out, err := b.runner.Run(ctx, "vgs",
		"--report-format", "json",
		"--units", "B",
		"--nosuffix",
		b.vg)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpUsage, err, "failed to query volume group %s", b.vg)
	}

	info, err := ParseVGS(out)
	if err != nil {
		return nil, backend.BackendError(Kind, backend.OpUsage, err, "failed to parse vgs report for %s", b.vg)
	}
	return info, nil
}

// ParseVGS reads the first volume group from a vgs JSON report.
func ParseVGS(report []byte) (*VGS, error) {
	if !gjson.ValidBytes(report) {
		return nil, fmt.Errorf("invalid JSON in vgs report")
	}

	vg := gjson.GetBytes(report, "report.0.vg.0")
	if !vg.Exists() {
		return nil, fmt.Errorf("no volume group in vgs report")
	}

	name := vg.Get("vg_name")
	if !name.Exists() || name.String() == "" {
		return nil, fmt.Errorf("vgs report is missing vg_name")
	}

	sizeField := vg.Get("vg_size")
	if !sizeField.Exists() {
		return nil, fmt.Errorf("vgs report is missing vg_size")
	}
	// vg_size is a string in vgs reports; tolerate a trailing unit
	raw := sizeField.String()
	if n := len(raw); n > 0 && raw[n-1] == 'B' {
		raw = raw[:n-1]
	}
	size, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid vg_size %q: %w", sizeField.String(), err)
	}

	return &VGS{Name: name.String(), Size: size}, nil
}
