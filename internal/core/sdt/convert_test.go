package sdt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoglab/gtod/internal/core/sgd"
)

const predsInputStr = "[example] [user] how about finding a place march 3rd? " +
	"somewhere moderate in cost that has vegetarian menu items. " +
	"[system] i assume in novato? [user] novato is correct. " +
	"something serving latin american cuisine and if possible with " +
	"outdoor seating. [system] i found 1 called maya palenque " +
	"restaurant. [user] i bet they have good food. [system] should " +
	"i book you a table? [user] yes for two please. [system] what " +
	"time would you like it for? [user] in the morning 11:15 " +
	"please. [slots] number_of_seats=c of possible values a) 4 b) " +
	"1 c) 2 d) 3 e) 6 f) 5 has_vegetarian_options=b of possible " +
	"values a) false b) true restaurant_name=maya palenque " +
	"restaurant date=march 3rd location=novato price_range=d of " +
	"possible values a) cheap b) pricey c) ultra high-end d) " +
	"moderate time=morning 11:15 has_seating_outdoors=b of " +
	"possible values a) false b) true category=latin american " +
	"[context] [user] hi, could you get me a " +
	"vegarian restaurant booking on the 8th please?"

// convertDialogueJSON carries an "annotations" object the typed dialogue
// model does not declare; the converter must not drop it.
const convertDialogueJSON = `[
  {
    "dialogue_id": "1_00000",
    "services": ["Restaurants_2"],
    "annotations": {"quality": "gold"},
    "turns": [
      {
        "speaker": "USER",
        "utterance": "Hi, could you get me a vegetarian restaurant booking on the 8th please?",
        "frames": [
          {
            "service": "Restaurants_2",
            "slots": [{"slot": "date", "start": 45, "exclusive_end": 52}],
            "state": {
              "active_intent": "ReserveRestaurant",
              "requested_slots": [],
              "slot_values": {"date": ["the 8th"]}
            }
          }
        ]
      }
    ]
  }
]`

func testDialogueFixture(t *testing.T) map[string]sgd.RawDialogue {
	t.Helper()
	var dialogues []sgd.RawDialogue
	require.NoError(t, json.Unmarshal([]byte(convertDialogueJSON), &dialogues))
	return map[string]sgd.RawDialogue{"1_00000": dialogues[0]}
}

func frameState(t *testing.T, dialogue sgd.RawDialogue, turnID, frameID int) map[string]any {
	t.Helper()
	frame, ok := frameAt(dialogue, turnID, frameID)
	require.True(t, ok)
	state, ok := frame["state"].(map[string]any)
	require.True(t, ok)
	return state
}

func TestParseAssignments(t *testing.T) {
	t.Parallel()
	pairs := parseAssignments("to_location=san jose travelers=2 date=march 3rd", "=")
	require.Len(t, pairs, 3)
	assert.Equal(t, [2]string{"to_location", "san jose "}, pairs[0])
	assert.Equal(t, [2]string{"travelers", "2 "}, pairs[1])
	assert.Equal(t, [2]string{"date", "march 3rd"}, pairs[2])
}

func TestCategoricalSlotValueMap(t *testing.T) {
	t.Parallel()
	got := categoricalSlotValueMap(predsInputStr, "=")

	assert.Equal(t, map[string]string{
		"a": "4", "b": "1", "c": "2", "d": "3", "e": "6", "f": "5",
	}, got["number_of_seats"])
	assert.Equal(t, map[string]string{
		"a": "cheap", "b": "pricey", "c": "ultra high-end", "d": "moderate",
	}, got["price_range"])
	// Noncategorical slots have no option table.
	assert.NotContains(t, got, "restaurant_name")
	assert.NotContains(t, got, "date")
}

func TestPopulatePredictions_Slots(t *testing.T) {
	t.Parallel()
	byID := testDialogueFixture(t)
	pred := framePrediction{Prediction: "[state] number_of_seats=none has_vegetarian_options=b " +
		"restaurant_name=none date=the 8th location=none price_range=none " +
		"time=none has_seating_outdoors=none category=none"}
	pred.Input.InputsPretokenized = predsInputStr
	pred.Input.DialogueID = "1_00000"
	pred.Input.TurnID = "0"
	pred.Input.FrameID = "0"

	opts := &ConvertOptions{Delimiter: "=", EvaluateIntents: true}
	require.NoError(t, populatePredictions(opts, byID, pred))

	state := frameState(t, byID["1_00000"], 0, 0)
	assert.Equal(t, map[string]any{
		"has_vegetarian_options": []any{"true"},
		"date":                   []any{"the 8th"},
	}, state["slot_values"])
}

func TestPopulatePredictions_Intent(t *testing.T) {
	t.Parallel()
	byID := testDialogueFixture(t)
	pred := framePrediction{Prediction: "[state] number_of_seats=none [intent] a"}
	pred.Input.InputsPretokenized = "[example] [user] yes for two please. " +
		"[slots] number_of_seats=c of possible values a) 4 b) 1 c) 2 d) 3 e) 6 f) 5 " +
		"[intent] a of possible options a) reserverestaurant b) findrestaurants " +
		"[context] [user] hi, could you get me a vegarian restaurant booking on the 8th please?"
	pred.Input.DialogueID = "1_00000"
	pred.Input.TurnID = "0"
	pred.Input.FrameID = "0"

	opts := &ConvertOptions{Delimiter: "=", EvaluateIntents: true}
	require.NoError(t, populatePredictions(opts, byID, pred))

	state := frameState(t, byID["1_00000"], 0, 0)
	assert.Equal(t, "reserverestaurant", state["active_intent"])
}

func TestPopulatePredictions_UnknownDialogue(t *testing.T) {
	t.Parallel()
	pred := framePrediction{Prediction: "[state]"}
	pred.Input.DialogueID = "9_99999"
	pred.Input.TurnID = "0"
	pred.Input.FrameID = "0"

	opts := &ConvertOptions{Delimiter: "="}
	assert.Error(t, populatePredictions(opts, testDialogueFixture(t), pred))
}

func TestConvertPredictions(t *testing.T) {
	t.Parallel()
	dataDir := t.TempDir()
	splitDir := filepath.Join(dataDir, "dev")
	require.NoError(t, os.MkdirAll(splitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(splitDir, "dialogues_001.json"), []byte(convertDialogueJSON), 0o644))

	predLine, err := json.Marshal(map[string]any{
		"input": map[string]any{
			"inputs_pretokenized": predsInputStr,
			"dialogue_id":         "1_00000",
			"turn_id":             "0",
			"frame_id":            "0",
		},
		"prediction": "[state] number_of_seats=c time=half past 11 in the morning",
	})
	require.NoError(t, err)
	predsFile := filepath.Join(dataDir, "preds.jsonl")
	require.NoError(t, os.WriteFile(predsFile, append(predLine, '\n'), 0o644))

	outDir := t.TempDir()
	opts := &ConvertOptions{
		PredictionsFile: predsFile,
		DataDir:         dataDir,
		OutputDir:       outDir,
		Split:           "dev",
		Delimiter:       "=",
	}
	require.NoError(t, ConvertPredictions(opts))

	data, err := os.ReadFile(filepath.Join(outDir, "dialogues_all.json"))
	require.NoError(t, err)
	var out []sgd.RawDialogue
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out, 1)

	// Undeclared fields survive the round trip.
	assert.Equal(t, map[string]any{"quality": "gold"}, out[0]["annotations"])

	state := frameState(t, out[0], 0, 0)
	assert.Equal(t, map[string]any{
		"number_of_seats": []any{"2"},
		"time":            []any{"half past 11 in the morning"},
	}, state["slot_values"])
	// Ground truth is erased before predictions are read back in.
	assert.Equal(t, "NONE", state["active_intent"])
	assert.Equal(t, []any{}, state["requested_slots"])
}
