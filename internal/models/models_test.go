package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileResultJSONOmitsEmptyMetadata(t *testing.T) {
	result := &FileResult{FilePath: "/data/a.nc", Success: true}

	out, err := json.Marshal(result)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"metadata"`)
	assert.NotContains(t, string(out), `"errors"`)

	result.Metadata = &FileMetadata{Dimensions: map[string]int{"N_PROF": 2}}
	out, err = json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"metadata"`)
	assert.Contains(t, string(out), `"N_PROF"`)
}

func TestMeasurementRowHasScience(t *testing.T) {
	row := &MeasurementRow{ProfileID: "5904297_1", Pressure: 10}
	assert.False(t, row.HasScience())

	temp := 15.2
	row.Temperature = &temp
	assert.True(t, row.HasScience())

	row.Temperature = nil
	oxy := 210.0
	row.Oxygen = &oxy
	assert.True(t, row.HasScience())
}
