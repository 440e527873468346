package multiwoz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeliefStateOrder(t *testing.T) {
	t.Parallel()
	state := NewBeliefState()
	state.Set("hotel-area", "north")
	state.Set("hotel-pricerange", "cheap")
	state.Set("hotel-area", "south")

	assert.Equal(t, []string{"hotel-area", "hotel-pricerange"}, state.Order)
	value, ok := state.Get("hotel-area")
	require.True(t, ok)
	assert.Equal(t, "south", value)
	assert.Equal(t, 2, state.Len())
}

func TestExtractBeliefState_Plain(t *testing.T) {
	t.Parallel()
	metadata := map[string]any{
		"train": map[string]any{
			"book": map[string]any{"people": "4", "booked": []any{}},
			"semi": map[string]any{"destination": "cambridge", "day": "not mentioned", "leaveat": "none"},
		},
		"hotel": map[string]any{
			"book": map[string]any{},
			"semi": map[string]any{"area": "east"},
		},
	}

	state, err := ExtractBeliefState(metadata, false)
	require.NoError(t, err)
	// Domains and slots come out in sorted order.
	assert.Equal(t, []string{"hotel-area", "train-people", "train-destination"}, state.Order)
	assert.Equal(t, map[string]string{
		"hotel-area":        "east",
		"train-people":      "4",
		"train-destination": "cambridge",
	}, state.Values)
}

func TestExtractBeliefState_Trade(t *testing.T) {
	t.Parallel()
	metadata := []any{
		map[string]any{"slots": []any{[]any{"hotel-book people", "4"}}},
		map[string]any{"slots": []any{[]any{"hotel-area", "east"}}},
	}

	state, err := ExtractBeliefState(metadata, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hotel-people", "hotel-area"}, state.Order)
	assert.Equal(t, "4", state.Values["hotel-people"])
}

func TestExtractBeliefState_TradeMalformed(t *testing.T) {
	t.Parallel()
	_, err := ExtractBeliefState([]any{
		map[string]any{"slots": []any{[]any{"a", "1"}, []any{"b", "2"}}},
	}, true)
	assert.Error(t, err)

	_, err = ExtractBeliefState([]any{
		map[string]any{"slots": []any{[]any{"only-name"}}},
	}, true)
	assert.Error(t, err)
}
