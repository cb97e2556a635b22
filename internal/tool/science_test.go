package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"diffrsp/internal/core"
)

func TestSuite_SelectForInterval(t *testing.T) {
	s := Suite{SelectTool: "gtselect", ResponseTool: "gtdiffrsp", Cuts: DefaultCuts(), Chatter: 3}
	inv := s.Select(Selection{
		InFile:  "ft1.fits",
		OutFile: "/tmp/part.fits",
		Region:  core.Region{RA: 83.633, Dec: 22.0145, Radius: 5},
		Bounds:  &core.Interval{Start: 239557417, Stop: 239643817.5},
		Chatter: 3,
	})
	assert.Equal(t,
		"gtselect infile=ft1.fits outfile=/tmp/part.fits ra=83.633 dec=22.0145 rad=5 "+
			"tmin=239557417 tmax=239643817.5 emin=0 emax=5000000 zmax=180 convtype=-1 chatter=3",
		inv.CommandLine())
}

func TestSuite_SelectWithoutBoundsIsIndef(t *testing.T) {
	s := Suite{SelectTool: "gtselect", Cuts: DefaultCuts()}
	inv := s.Select(Selection{InFile: "@list.txt", OutFile: "out.fits", Region: core.Region{RA: 1, Dec: 2, Radius: 3}})
	assert.Equal(t, Indef, inv.Get("tmin"))
	assert.Equal(t, Indef, inv.Get("tmax"))
	assert.Equal(t, "0", inv.Get("chatter"))
}

func TestSuite_Response(t *testing.T) {
	s := Suite{ResponseTool: "gtdiffrsp", Chatter: 2}
	inv := s.Response("/tmp/part.fits", core.Params{
		SpacecraftFile: "ft2.fits",
		SourceModel:    "model.xml",
		ResponseID:     "P8R3_SOURCE_V3",
	})
	assert.Equal(t, "gtdiffrsp evfile=/tmp/part.fits scfile=ft2.fits srcmdl=model.xml irfs=P8R3_SOURCE_V3 clobber=yes chatter=2", inv.CommandLine())
}
