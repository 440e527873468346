package sgd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dialoglab/gtod/internal/log"
)

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser   Speaker = "USER"
	SpeakerSystem Speaker = "SYSTEM"
)

// SlotSpan marks a slot value inside an utterance by character offsets.
type SlotSpan struct {
	Slot         string `json:"slot"`
	Start        int    `json:"start"`
	ExclusiveEnd int    `json:"exclusive_end"`
}

// Action is a single dialogue act, user or system.
type Action struct {
	Act             string   `json:"act"`
	Slot            string   `json:"slot"`
	Values          []string `json:"values"`
	CanonicalValues []string `json:"canonical_values"`
}

// State is the user-side dialogue state for one frame.
type State struct {
	ActiveIntent   string              `json:"active_intent"`
	RequestedSlots []string            `json:"requested_slots"`
	SlotValues     map[string][]string `json:"slot_values"`
}

// ServiceCall records an API invocation made by the system.
type ServiceCall struct {
	Method     string            `json:"method"`
	Parameters map[string]string `json:"parameters"`
}

// Frame is the per-service annotation attached to a turn. User frames
// carry a state; system frames carry actions and optionally a service
// call with its results.
type Frame struct {
	Service        string              `json:"service"`
	Slots          []SlotSpan          `json:"slots"`
	Actions        []Action            `json:"actions"`
	State          *State              `json:"state,omitempty"`
	ServiceCall    *ServiceCall        `json:"service_call,omitempty"`
	ServiceResults []map[string]string `json:"service_results,omitempty"`
}

// Turn is one utterance with its frames.
type Turn struct {
	Speaker   Speaker `json:"speaker"`
	Utterance string  `json:"utterance"`
	Frames    []Frame `json:"frames"`
}

// Dialogue is one conversation from a dialogues_NNN.json shard.
type Dialogue struct {
	DialogueID string   `json:"dialogue_id"`
	Services   []string `json:"services"`
	Turns      []Turn   `json:"turns"`
}

// DialogueFiles lists the dialogue shards in dir, sorted by filename.
func DialogueFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "dialogues*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// LoadDialogueFile decodes a single dialogue shard.
func LoadDialogueFile(path string) ([]Dialogue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dialogues: %w", err)
	}
	var dialogues []Dialogue
	if err := json.Unmarshal(data, &dialogues); err != nil {
		return nil, fmt.Errorf("decode dialogues %s: %w", path, err)
	}
	return dialogues, nil
}

// LoadDialogues decodes every dialogue shard in dir. Shards are decoded
// concurrently but the result keeps filename order.
func LoadDialogues(dir string) ([]Dialogue, error) {
	files, err := DialogueFiles(dir)
	if err != nil {
		return nil, err
	}

	perFile := make([][]Dialogue, len(files))
	var g errgroup.Group
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			dialogues, err := LoadDialogueFile(file)
			if err != nil {
				return err
			}
			perFile[i] = dialogues
			log.Debug().Str("file", filepath.Base(file)).Int("dialogues", len(dialogues)).Msg("loaded dialogue shard")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Dialogue
	for _, dialogues := range perFile {
		all = append(all, dialogues...)
	}
	return all, nil
}

// Split bundles everything loaded from one dataset split directory.
type Split struct {
	Schema    Schema
	Registry  map[string]Service
	Dialogues []Dialogue
}

// LoadSplit loads schema.json and all dialogue shards from dir.
func LoadSplit(dir string) (*Split, error) {
	schema, err := LoadSchema(filepath.Join(dir, "schema.json"))
	if err != nil {
		return nil, err
	}
	dialogues, err := LoadDialogues(dir)
	if err != nil {
		return nil, err
	}
	log.Info().Str("dir", dir).Int("services", len(schema)).Int("dialogues", len(dialogues)).Msg("loaded split")
	return &Split{Schema: schema, Registry: schema.Registry(), Dialogues: dialogues}, nil
}
