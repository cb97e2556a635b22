package tool

import (
	"strconv"

	"diffrsp/internal/core"
)

// Indef is the science tools' spelling of "no bound".
const Indef = "INDEF"

// Cuts are the energy, zenith-angle and conversion-type selections applied by
// every select invocation. The defaults are wide open: the select stage only
// slices by time and region.
type Cuts struct {
	EMin     float64
	EMax     float64
	ZMax     float64
	ConvType int
}

// DefaultCuts keeps every event.
func DefaultCuts() Cuts {
	return Cuts{EMin: 0, EMax: 5000000, ZMax: 180, ConvType: -1}
}

// Suite names the two external tools and the options common to their calls.
type Suite struct {
	SelectTool   string
	ResponseTool string
	Cuts         Cuts
	Chatter      int
}

// Selection describes one select call. A nil Bounds selects the full time
// range (tmin=tmax=INDEF).
type Selection struct {
	InFile  string
	OutFile string
	Region  core.Region
	Bounds  *core.Interval
	Chatter int
}

// Select builds the select-stage invocation.
func (s Suite) Select(sel Selection) Invocation {
	tmin, tmax := Indef, Indef
	if sel.Bounds != nil {
		tmin = core.FormatFloat(sel.Bounds.Start)
		tmax = core.FormatFloat(sel.Bounds.Stop)
	}
	return Invocation{
		Tool: s.SelectTool,
		Args: []Arg{
			{"infile", sel.InFile},
			{"outfile", sel.OutFile},
			{"ra", core.FormatFloat(sel.Region.RA)},
			{"dec", core.FormatFloat(sel.Region.Dec)},
			{"rad", core.FormatFloat(sel.Region.Radius)},
			{"tmin", tmin},
			{"tmax", tmax},
			{"emin", core.FormatFloat(s.Cuts.EMin)},
			{"emax", core.FormatFloat(s.Cuts.EMax)},
			{"zmax", core.FormatFloat(s.Cuts.ZMax)},
			{"convtype", strconv.Itoa(s.Cuts.ConvType)},
			{"chatter", strconv.Itoa(sel.Chatter)},
		},
	}
}

// Response builds the response-stage invocation. The tool rewrites the
// event file in place, so clobber is always on.
func (s Suite) Response(evfile string, p core.Params) Invocation {
	return Invocation{
		Tool: s.ResponseTool,
		Args: []Arg{
			{"evfile", evfile},
			{"scfile", p.SpacecraftFile},
			{"srcmdl", p.SourceModel},
			{"irfs", p.ResponseID},
			{"clobber", "yes"},
			{"chatter", strconv.Itoa(s.Chatter)},
		},
	}
}
