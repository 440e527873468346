package d3st

import (
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoglab/gtod/internal/core/multiwoz"
)

const testWozDataJSON = `{
  "MUL0001.json": {
    "log": [
      {"text": "I need a cheap hotel in the north.", "metadata": {}},
      {
        "text": "Okay, what about the Lovell Lodge?",
        "metadata": {
          "hotel": {
            "book": {"booked": [], "people": ""},
            "semi": {"pricerange": "cheap", "area": "north", "parking": "not mentioned"}
          }
        }
      }
    ]
  }
}`

const testWozSchemaJSON = `[
  {
    "service_name": "hotel",
    "slots": [
      {"name": "hotel-pricerange", "is_categorical": true, "possible_values": ["expensive", "cheap", "moderate"]},
      {"name": "hotel-area", "is_categorical": false, "possible_values": []},
      {"name": "hotel-parking", "is_categorical": true, "possible_values": ["free", "no", "yes"]}
    ]
  }
]`

const testWozSlotDescriptionsJSON = `{
  "hotel-pricerange": ["price budget of the hotel", "cost of the hotel"],
  "hotel-area": ["area or place of the hotel"],
  "hotel-parking": ["parking facility at the hotel"]
}`

func writeWozFixture(t *testing.T) (dataDir, schemaFile string) {
	t.Helper()
	dataDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "data.json"), []byte(testWozDataJSON), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "valListFile.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "testListFile.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "slot_descriptions.json"), []byte(testWozSlotDescriptionsJSON), 0o644))
	schemaFile = filepath.Join(dataDir, "schema.json")
	require.NoError(t, os.WriteFile(schemaFile, []byte(testWozSchemaJSON), 0o644))
	return dataDir, schemaFile
}

func testWozOptions(t *testing.T) *MultiWOZOptions {
	t.Helper()
	dataDir, schemaFile := writeWozFixture(t)
	return &MultiWOZOptions{
		MultiWOZDir:     dataDir,
		OutputDir:       t.TempDir(),
		SchemaFile:      schemaFile,
		Version:         multiwoz.V21,
		DescriptionType: DescFullDesc,
		Delimiter:       ":",
		MultipleChoice:  MCNone,
		Rand:            rand.New(rand.NewSource(42)),
	}
}

// slotIndex resolves a slot's prompt index from the recorded ordering.
func slotIndex(t *testing.T, ordering, slot string) int {
	t.Helper()
	for i, name := range strings.Split(ordering, ", ") {
		if name == slot {
			return i
		}
	}
	t.Fatalf("slot %s not in ordering %q", slot, ordering)
	return -1
}

func TestGenerateMultiWOZ(t *testing.T) {
	t.Parallel()
	opts := testWozOptions(t)
	require.NoError(t, GenerateMultiWOZ(opts))

	for _, split := range []string{"train", "dev", "test", "dev_test"} {
		_, err := os.Stat(filepath.Join(opts.OutputDir, split+".tsv"))
		assert.NoError(t, err, split)
	}

	data, err := os.ReadFile(filepath.Join(opts.OutputDir, "train.tsv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	// One system turn in the fixture.
	require.Len(t, lines, 1)

	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 5)
	assert.Equal(t, "mul0001.json", fields[2])
	assert.Equal(t, "1", fields[3])
	assert.Contains(t, fields[0], "price budget of the hotel")
	assert.Contains(t, fields[0], "area or place of the hotel")
	assert.Contains(t, fields[0], "[user] i need a cheap hotel in the north.")
	assert.True(t, strings.HasSuffix(fields[1], "[intents] [req_slots]"))
	// "not mentioned" values are untracked.
	assert.NotContains(t, fields[1], "not mentioned")
}

func TestCreateExamples_StateIndices(t *testing.T) {
	t.Parallel()
	opts := testWozOptions(t)

	schema, err := multiwoz.LoadSchema(opts.SchemaFile)
	require.NoError(t, err)
	data, err := multiwoz.LoadDialogs(opts.MultiWOZDir, opts.Version)
	require.NoError(t, err)

	examples, err := opts.createExamples(data.Train, schema, data.SlotDescriptions)
	require.NoError(t, err)
	require.Len(t, examples, 1)

	ordering := examples[0].Metadata["slot_ordering"]
	priceID := slotIndex(t, ordering, "hotel-pricerange")
	areaID := slotIndex(t, ordering, "hotel-area")

	tgt := examples[0].Tgt
	assert.Contains(t, tgt, strconv.Itoa(priceID)+":cheap")
	assert.Contains(t, tgt, strconv.Itoa(areaID)+":north")
}

func TestCreateExamples_ActiveDomainsAndBlocked(t *testing.T) {
	t.Parallel()
	opts := testWozOptions(t)

	schema, err := multiwoz.LoadSchema(opts.SchemaFile)
	require.NoError(t, err)
	data, err := multiwoz.LoadDialogs(opts.MultiWOZDir, opts.Version)
	require.NoError(t, err)

	opts.UseActiveDomainsOnly = true
	examples, err := opts.createExamples(data.Train, schema, data.SlotDescriptions)
	require.NoError(t, err)
	require.Len(t, examples, 1)

	opts.BlockedDomains = map[string]bool{"hotel": true}
	examples, err = opts.createExamples(data.Train, schema, data.SlotDescriptions)
	require.NoError(t, err)
	assert.Empty(t, examples)
}

func TestCreateExamples_BlockedTurnDroppedFromHistory(t *testing.T) {
	t.Parallel()
	opts := &MultiWOZOptions{
		Version:         multiwoz.V21,
		DescriptionType: DescFullDesc,
		Delimiter:       ":",
		MultipleChoice:  MCNone,
		BlockedDomains:  map[string]bool{"hotel": true},
		Rand:            rand.New(rand.NewSource(7)),
	}

	schema := &multiwoz.SchemaInfo{SlotsByDomain: map[string]map[string]multiwoz.SlotInfo{
		"hotel": {"hotel-pricerange": {IsCategorical: true, PossibleValues: []string{"expensive", "cheap", "moderate"}}},
		"train": {"train-day": {}},
	}}
	slotDescriptions := map[string][]string{
		"hotel-pricerange": {"price budget of the hotel"},
		"train-day":        {"day of the train"},
	}

	hotelState := multiwoz.NewBeliefState()
	hotelState.Set("hotel-pricerange", "cheap")
	trainState := multiwoz.NewBeliefState()
	trainState.Set("train-day", "monday")

	dialogs := []multiwoz.Dialog{{
		DialogID: "mul0002.json",
		Turns: []multiwoz.Turn{
			{Utterance: "i need a cheap hotel", BeliefState: multiwoz.NewBeliefState()},
			{Utterance: "the lovell lodge is cheap", BeliefState: hotelState},
			{Utterance: "actually i need a train on monday", BeliefState: multiwoz.NewBeliefState()},
			{Utterance: "there are trains all day monday", BeliefState: trainState},
		},
	}}

	examples, err := opts.createExamples(dialogs, schema, slotDescriptions)
	require.NoError(t, err)
	require.Len(t, examples, 1)
	assert.Equal(t, 3, examples[0].Turn)

	// The blocked system turn yields no example and stays out of later
	// histories.
	assert.Contains(t, examples[0].Src, "[user] i need a cheap hotel")
	assert.Contains(t, examples[0].Src, "[user] actually i need a train on monday")
	assert.NotContains(t, examples[0].Src, "lovell lodge")
}

func TestCreateTradeExamples(t *testing.T) {
	t.Parallel()
	opts := testWozOptions(t)
	opts.IsTrade = true

	schema, err := multiwoz.LoadSchema(opts.SchemaFile)
	require.NoError(t, err)
	slotDescriptions := map[string][]string{
		"hotel-pricerange": {"price budget of the hotel"},
		"hotel-area":       {"area or place of the hotel"},
		"hotel-parking":    {"parking facility at the hotel"},
	}

	split := multiwoz.SplitData{
		Order: []string{"mul0001.json"},
		ByID: map[string]map[string]any{
			"mul0001.json": {
				"dialogue": []any{
					map[string]any{
						"system_transcript": "",
						"transcript":        "i need a cheap hotel",
						"belief_state": []any{
							map[string]any{"slots": []any{[]any{"hotel-pricerange", "cheap"}}},
						},
					},
					map[string]any{
						"system_transcript": "what area?",
						"transcript":        "in the north please",
						"belief_state": []any{
							map[string]any{"slots": []any{[]any{"hotel-pricerange", "cheap"}}},
							map[string]any{"slots": []any{[]any{"hotel-area", "north"}}},
						},
					},
				},
			},
		},
	}

	examples, err := opts.createTradeExamples(split, schema, slotDescriptions)
	require.NoError(t, err)
	require.Len(t, examples, 2)

	assert.Equal(t, 0, examples[0].Turn)
	assert.Contains(t, examples[0].Src, "[user] i need a cheap hotel")
	assert.NotContains(t, examples[0].Src, "[system]")
	assert.Contains(t, examples[1].Src, "[system] what area? [user] in the north please")

	ordering := examples[1].Metadata["slot_ordering"]
	areaID := slotIndex(t, ordering, "hotel-area")
	assert.Contains(t, examples[1].Tgt, strconv.Itoa(areaID)+":north")
}

func TestMultipleChoiceAnswer(t *testing.T) {
	t.Parallel()
	possible := []string{"expensive", "cheap", "moderate"}

	opts := &MultiWOZOptions{MultipleChoice: MCIndexedLetter}
	assert.Equal(t, "3b", opts.multipleChoiceAnswer(3, possible, "cheap"))
	assert.Equal(t, "none", opts.multipleChoiceAnswer(3, possible, "none"))
	assert.Equal(t, "dontcare", opts.multipleChoiceAnswer(3, possible, "dontcare"))

	opts = &MultiWOZOptions{MultipleChoice: MCLetter}
	assert.Equal(t, "b", opts.multipleChoiceAnswer(3, possible, "cheap"))
	// TRADE data sometimes strips spaces from categorical values.
	assert.Equal(t, "a", opts.multipleChoiceAnswer(0, []string{"guesthouse", "hotel"}, "guest house"))
	assert.Equal(t, "c", opts.multipleChoiceAnswer(0, possible, "modera te"))
	// Close misspellings resolve to the nearest possible value.
	assert.Equal(t, "c", opts.multipleChoiceAnswer(0, possible, "modarate"))
	assert.Equal(t, "unknown", opts.multipleChoiceAnswer(0, possible, "something else entirely"))
}

func TestSplitValues(t *testing.T) {
	t.Parallel()
	opts := &MultiWOZOptions{Version: multiwoz.V21}

	values, err := opts.splitValues("a|b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, values)

	values, err = opts.splitValues("monday>tuesday")
	require.NoError(t, err)
	assert.Equal(t, []string{"monday", "tuesday"}, values)

	values, err = opts.splitValues("north")
	require.NoError(t, err)
	assert.Equal(t, []string{"north"}, values)

	// 2.2 annotates alternatives explicitly.
	opts = &MultiWOZOptions{Version: multiwoz.V22}
	_, err = opts.splitValues("north")
	assert.Error(t, err)
}
