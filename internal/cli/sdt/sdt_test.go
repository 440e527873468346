package sdt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testDialoguesJSON = `[
  {
    "dialogue_id": "1_00000",
    "services": ["Restaurants_2"],
    "turns": [
      {
        "speaker": "USER",
        "utterance": "Get me a table in Novato on march 3rd.",
        "frames": [
          {
            "service": "Restaurants_2",
            "slots": [],
            "state": {
              "active_intent": "ReserveRestaurant",
              "requested_slots": [],
              "slot_values": {"location": ["Novato"], "date": ["march 3rd"]}
            }
          }
        ]
      }
    ]
  }
]`

func runSDTCommand(t *testing.T, args ...string) error {
	t.Helper()
	app := &cli.App{
		Name:           "gtod-test",
		Commands:       []*cli.Command{NewSDTCommand()},
		Writer:         os.Stderr,
		ErrWriter:      os.Stderr,
		ExitErrHandler: func(context *cli.Context, err error) {},
	}
	return app.Run(append([]string{"gtod-test", "sdt"}, args...))
}

func TestSGDCommand(t *testing.T) {
	dataDir := t.TempDir()
	trainDir := filepath.Join(dataDir, "train")
	require.NoError(t, os.MkdirAll(trainDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(trainDir, "dialogues_001.json"), []byte(testDialoguesJSON), 0o644))
	outputPath := filepath.Join(t.TempDir(), "train.tsv")

	err := runSDTCommand(t, "sgd",
		"--sgd-dir", dataDir,
		"--subdirs", "train",
		"--output-path", outputPath,
		"--randomize-slots=false",
		"--randomize-cat-vals=false",
		"--seed", "1")
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[example]")
	assert.Contains(t, lines[0], "[context] [user] get me a table in novato on march 3rd.")
	assert.Contains(t, lines[0], "location=novato")
}

func TestSGDCommand_BadTargetFormat(t *testing.T) {
	err := runSDTCommand(t, "sgd",
		"--sgd-dir", t.TempDir(),
		"--output-path", "out.tsv",
		"--target-format", "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestConvertCommand_MissingPredictions(t *testing.T) {
	err := runSDTCommand(t, "convert",
		"--predictions-jsonl", "missing.jsonl",
		"--data-dir", t.TempDir(),
		"--output-dir", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, 1, err.(cli.ExitCoder).ExitCode())
}
