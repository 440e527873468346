package sdt

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialoglab/gtod/internal/core/sgd"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

const sdtDialoguesJSON = `[
  {
    "dialogue_id": "1_00000",
    "services": ["Buses_1"],
    "turns": [
      {
        "speaker": "USER",
        "utterance": "I'm looking for a bus to NYC.",
        "frames": [
          {
            "service": "Buses_1",
            "slots": [],
            "state": {
              "active_intent": "FindBus",
              "requested_slots": [],
              "slot_values": {"to_location": ["nyc"]}
            }
          }
        ]
      },
      {
        "speaker": "SYSTEM",
        "utterance": "When are you leaving?",
        "frames": [
          {"service": "Buses_1", "slots": [], "actions": []}
        ]
      },
      {
        "speaker": "USER",
        "utterance": "Tomorrow, for two people.",
        "frames": [
          {
            "service": "Buses_1",
            "slots": [],
            "state": {
              "active_intent": "FindBus",
              "requested_slots": [],
              "slot_values": {"to_location": ["nyc"], "travelers": ["2"]}
            }
          }
        ]
      }
    ]
  }
]`

func writeSDTFixture(t *testing.T) string {
	t.Helper()
	dataDir := t.TempDir()
	trainDir := filepath.Join(dataDir, "train")
	require.NoError(t, os.MkdirAll(trainDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(trainDir, "dialogues_001.json"), []byte(sdtDialoguesJSON), 0o644))
	return dataDir
}

func sdtTestOptions(t *testing.T) *SGDOptions {
	t.Helper()
	return &SGDOptions{
		SGDDir:        writeSDTFixture(t),
		Subdirs:       []string{"train"},
		OutputPath:    filepath.Join(t.TempDir(), "output.tsv"),
		Prompts:       testTable(),
		PromptIndices: []int{0},
		ContextFormat: ContextDialogue,
		TargetFormat:  TargetAll,
		Lowercase:     true,
		Rand:          rand.New(rand.NewSource(123)),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestGenerateSGD(t *testing.T) {
	t.Parallel()
	opts := sdtTestOptions(t)
	require.NoError(t, GenerateSGD(opts))

	lines := readLines(t, opts.OutputPath)
	// Two user turns, one frame each.
	require.Len(t, lines, 2)

	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 5)
	assert.Equal(t,
		"[example] [user] can you find me a bus to lax? [system] sure, when are you leaving? "+
			"[slots] to_location=lax travelers=2 "+
			"[context] [user] i'm looking for a bus to nyc.",
		fields[0])
	assert.Equal(t, "[state] to_location=nyc travelers=none", fields[1])
	assert.Equal(t, "1_00000", fields[2])
	assert.Equal(t, "0", fields[3])
	assert.Equal(t, "0", fields[4])

	fields = strings.Split(lines[1], "\t")
	require.Len(t, fields, 5)
	assert.Contains(t, fields[0], "[context] [user] i'm looking for a bus to nyc. [system] when are you leaving? [user] tomorrow, for two people.")
	assert.Equal(t, "[state] to_location=nyc travelers=2", fields[1])
	assert.Equal(t, "2", fields[3])
}

func TestGenerateSGD_SamplingExclusive(t *testing.T) {
	t.Parallel()
	opts := sdtTestOptions(t)
	opts.DataPercent = 0.5
	opts.KShot = 1
	assert.Error(t, GenerateSGD(opts))
}

func TestGenerateSGD_DataPercent(t *testing.T) {
	t.Parallel()
	opts := sdtTestOptions(t)
	opts.DataPercent = 0.5
	require.NoError(t, GenerateSGD(opts))
	assert.Len(t, readLines(t, opts.OutputPath), 1)
}

func TestGenerateSGD_KShot(t *testing.T) {
	t.Parallel()
	opts := sdtTestOptions(t)
	opts.KShot = 1
	require.NoError(t, GenerateSGD(opts))
	assert.Len(t, readLines(t, opts.OutputPath), 1)

	opts = sdtTestOptions(t)
	opts.KShot = 5
	assert.Error(t, GenerateSGD(opts))
}

func TestSample_KShotGroupsByService(t *testing.T) {
	t.Parallel()
	opts := &SGDOptions{KShot: 1, Rand: rand.New(rand.NewSource(7))}
	examples := []Example{
		{Str: "a", Services: []string{"Buses_1"}},
		{Str: "b", Services: []string{"Buses_1"}},
		{Str: "c", Services: []string{"Trains_1"}},
	}
	got, err := opts.sample(examples)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSGDXPrompts(t *testing.T) {
	t.Parallel()
	sgdDir := t.TempDir()
	sgdxDir := t.TempDir()
	for dir, slots := range map[string][]string{
		sgdDir:  {"to_location", "travelers"},
		sgdxDir: {"destination", "num_riders"},
	} {
		trainDir := filepath.Join(dir, "train")
		require.NoError(t, os.MkdirAll(trainDir, 0o755))
		schema := sgd.Schema{{
			ServiceName: "Buses_1",
			Slots:       []sgd.Slot{{Name: slots[0]}, {Name: slots[1]}},
		}}
		writeJSON(t, filepath.Join(trainDir, "schema.json"), schema)
	}

	table, err := SGDXPrompts(testTable(), sgdDir, sgdxDir, []string{"train"})
	require.NoError(t, err)

	prompt := table["Buses_1"][0]
	assert.Equal(t, []string{"destination", "num_riders"}, prompt.SlotOrder)
	assert.Equal(t, "lax", prompt.Slots["destination"])
	assert.Equal(t, []string{"1", "2", "3"}, prompt.CatValues["num_riders"])
}
