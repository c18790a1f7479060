package tours

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTour_MarshalJSONAddsDurationWeeks(t *testing.T) {
	raw, err := json.Marshal(Tour{Name: "The Forest Hiker", Duration: 14})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2.0, out["durationWeeks"])
	assert.Equal(t, "The Forest Hiker", out["name"])
	assert.NotContains(t, out, "BaseModel")
}

func TestTour_ValidatePriceDiscount(t *testing.T) {
	tour := validInput("The Forest Hiker", 397).ToTour()
	require.NoError(t, prepareTourForWrite(tour))

	discount := 397.0
	tour.PriceDiscount = &discount
	err := tour.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Discount price (397) should be below regular price")

	discount = 100
	assert.NoError(t, tour.Validate())
}

func TestPrepareTourForWrite_NormalizesFields(t *testing.T) {
	in := validInput("  The City Wanderer ", 1197)
	in.Difficulty = " MEDIUM "
	tour := in.ToTour()

	require.NoError(t, prepareTourForWrite(tour))
	assert.Equal(t, "The City Wanderer", tour.Name)
	assert.Equal(t, "the-city-wanderer", tour.Slug)
	assert.Equal(t, DifficultyMedium, tour.Difficulty)
}

func TestDefaultFixturesAreValid(t *testing.T) {
	inputs, err := DefaultFixtures()
	require.NoError(t, err)
	require.NotEmpty(t, inputs)

	for _, in := range inputs {
		assert.NoError(t, prepareTourForWrite(in.ToTour()), in.Name)
	}
}
