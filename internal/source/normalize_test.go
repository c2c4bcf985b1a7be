package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/landlinked/pkg/models"
)

func TestYear(t *testing.T) {
	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{float64(2015), 2015, true},
		{2015.0, 2015, true},
		{"2015", 2015, true},
		{"2015-01-01", 2015, true},
		{"", 0, false},
		{nil, 0, false},
		{"n/a", 0, false},
	}
	for _, tt := range tests {
		got, ok := Year(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.want, got, "%v", tt.in)
	}
}

func TestNewEntry(t *testing.T) {
	_, err := NewEntry("IMF", "NGDP_RPCH", nil)
	assert.ErrorIs(t, err, ErrNoData)

	ind := models.Indicator{Code: "NGDP_RPCH", Description: "Real GDP growth"}
	c := models.Country{Name: "Bolivia", ISO2: "BO", ISO3: "BOL"}
	entry, err := NewEntry("IMF", "NGDP_RPCH", []models.Observation{NewObservation(ind, c, 2021, 6.1, "%")})
	require.NoError(t, err)
	assert.Equal(t, "IMF", entry.Metadata["sourceid"])
	assert.Equal(t, 1, entry.Metadata["total"])

	obs := entry.Observations[0]
	assert.Equal(t, "Real GDP growth", obs.Indicator.Value)
	assert.Equal(t, "BO", obs.Country.ID)
	assert.Equal(t, "2021", obs.Date)
	assert.Equal(t, "%", obs.Unit)
}
