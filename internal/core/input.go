package core

import (
	"fmt"
	"math"
	"strconv"
)

// Region is a circular selection on the sky.
//
// It is read from the event file header, where it appears as
// CIRCLE(ra,dec,radius). Radius is always > 0.
type Region struct {
	RA     float64 `json:"ra"`
	Dec    float64 `json:"dec"`
	Radius float64 `json:"radius"`
}

// Validate reports whether r is a usable selection region.
func (r Region) Validate() error {
	fields := []struct {
		name string
		v    float64
	}{{"ra", r.RA}, {"dec", r.Dec}, {"radius", r.Radius}}
	for _, f := range fields {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("region %s is not finite", f.name)
		}
	}
	if r.Radius <= 0 {
		return fmt.Errorf("region radius must be > 0 (got %s)", FormatFloat(r.Radius))
	}
	return nil
}

func (r Region) String() string {
	return "CIRCLE(" + FormatFloat(r.RA) + "," + FormatFloat(r.Dec) + "," + FormatFloat(r.Radius) + ")"
}

// Dataset is the event file plus the metadata needed to partition it.
// It is read once and never mutated.
type Dataset struct {
	Path   string  `json:"path"`
	Start  float64 `json:"tstart"`
	Stop   float64 `json:"tstop"`
	Region Region  `json:"region"`
}

// FormatFloat renders v the way it is passed to the external tools: the
// shortest representation that parses back to the same float64.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
