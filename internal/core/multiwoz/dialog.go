package multiwoz

import (
	"fmt"
	"strings"
)

// Turn is one turn of a plain MultiWOZ dialogue.
type Turn struct {
	Utterance   string
	BeliefState *BeliefState
	Actions     map[string][][2]string
}

// Dialog is a plain MultiWOZ dialogue.
type Dialog struct {
	DialogID string
	Turns    []Turn
}

// DialogData is the corpus converted into typed dialogues.
type DialogData struct {
	Train            []Dialog
	Dev              []Dialog
	Test             []Dialog
	SlotDescriptions map[string][]string
}

// LoadDialogs loads the corpus and converts every dialogue into the
// typed form. Only the plain (non-TRADE) layout carries the per-turn log
// this form needs.
func LoadDialogs(dataDir string, version Version) (*DialogData, error) {
	raw, err := Load(dataDir, version, false)
	if err != nil {
		return nil, err
	}

	convert := func(split SplitData) ([]Dialog, error) {
		dialogs := make([]Dialog, 0, split.Len())
		for _, id := range split.Order {
			dialog, err := dialogFromJSON(id, split.ByID[id])
			if err != nil {
				return nil, err
			}
			dialogs = append(dialogs, dialog)
		}
		return dialogs, nil
	}

	data := &DialogData{SlotDescriptions: raw.SlotDescriptions}
	if data.Train, err = convert(raw.Train); err != nil {
		return nil, err
	}
	if data.Dev, err = convert(raw.Dev); err != nil {
		return nil, err
	}
	if data.Test, err = convert(raw.Test); err != nil {
		return nil, err
	}
	return data, nil
}

func dialogFromJSON(id string, dialogJSON map[string]any) (Dialog, error) {
	entries, _ := dialogJSON["log"].([]any)
	turns := make([]Turn, 0, len(entries))
	for _, entry := range entries {
		utteranceJSON, _ := entry.(map[string]any)
		text := stringValue(utteranceJSON["text"])
		utterance := strings.ReplaceAll(strings.TrimSpace(text), "\t", " ")

		beliefState, err := ExtractBeliefState(utteranceJSON["metadata"], false)
		if err != nil {
			return Dialog{}, fmt.Errorf("dialogue %s: %w", id, err)
		}

		actions := map[string][][2]string{}
		if acts, ok := utteranceJSON["dialog_act"].(map[string]any); ok {
			for act, slotVals := range acts {
				actions[act] = [][2]string{}
				for _, sv := range anySlice(slotVals) {
					pair := anySlice(sv)
					if len(pair) != 2 {
						return Dialog{}, fmt.Errorf("dialogue %s: dialog act %s has a non-pair slot value %v", id, act, sv)
					}
					actions[act] = append(actions[act], [2]string{stringValue(pair[0]), stringValue(pair[1])})
				}
			}
		}
		turns = append(turns, Turn{Utterance: utterance, BeliefState: beliefState, Actions: actions})
	}
	return Dialog{DialogID: id, Turns: turns}, nil
}
