package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWorkItems_PreservesOrderAndSharedParams(t *testing.T) {
	ivs, err := Partition(0, 40, 4)
	require.NoError(t, err)

	p := Params{
		EventFile:      "/data/ft1.fits",
		SpacecraftFile: "/data/ft2.fits",
		SourceModel:    "/data/model.xml",
		ResponseID:     "P8R3_SOURCE_V3",
		Region:         Region{RA: 83.633, Dec: 22.0145, Radius: 5},
	}
	items := BuildWorkItems(ivs, p)
	require.Len(t, items, 4)
	for i, it := range items {
		assert.Equal(t, i, it.Index)
		assert.Equal(t, i+1, it.Number())
		assert.Equal(t, ivs[i], it.Interval)
		assert.Equal(t, p, it.Params)
	}
	assert.Equal(t, "interval 2 [10, 20)", items[1].String())
}

func TestRegion_Validate(t *testing.T) {
	require.NoError(t, Region{RA: 83.633, Dec: 22.0145, Radius: 5}.Validate())
	assert.Error(t, Region{RA: 1, Dec: 2, Radius: 0}.Validate())
	assert.Error(t, Region{RA: 1, Dec: 2, Radius: -1}.Validate())
	assert.Equal(t, "CIRCLE(83.633,22.0145,5)", Region{RA: 83.633, Dec: 22.0145, Radius: 5}.String())
}
