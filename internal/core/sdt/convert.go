package sdt

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dialoglab/gtod/internal/core/sgd"
	"github.com/dialoglab/gtod/internal/log"
)

// ConvertOptions configures T5X prediction conversion into the DSTC8
// evaluation format.
type ConvertOptions struct {
	PredictionsFile string
	// DataDir is the downloaded DSTC8 corpus with train/dev/test split
	// directories.
	DataDir   string
	OutputDir string
	Split     string
	Delimiter string
	// EvaluateIntents also reads intent predictions back into the
	// dialogue states.
	EvaluateIntents bool
}

// framePrediction is one line of the T5X JSONL output.
type framePrediction struct {
	Input struct {
		InputsPretokenized string `json:"inputs_pretokenized"`
		DialogueID         string `json:"dialogue_id"`
		TurnID             string `json:"turn_id"`
		FrameID            string `json:"frame_id"`
	} `json:"input"`
	Prediction string `json:"prediction"`
}

var optionLetterRe = regexp.MustCompile(`([a-z])\) `)

// parseAssignments splits "k<delim>v k<delim>v ..." where values may
// contain spaces; each value runs until the next key.
func parseAssignments(s, delimiter string) [][2]string {
	re := regexp.MustCompile(`(\w+)` + regexp.QuoteMeta(delimiter))
	matches := re.FindAllStringSubmatchIndex(s, -1)
	pairs := make([][2]string, 0, len(matches))
	for i, m := range matches {
		end := len(s)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		pairs = append(pairs, [2]string{s[m[2]:m[3]], s[m[1]:end]})
	}
	return pairs
}

// parseOptions splits "a) v1 b) v2 ..." into letter-to-value pairs.
func parseOptions(s string) [][2]string {
	matches := optionLetterRe.FindAllStringSubmatchIndex(s, -1)
	pairs := make([][2]string, 0, len(matches))
	for i, m := range matches {
		end := len(s)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		pairs = append(pairs, [2]string{s[m[2]:m[3]], strings.TrimSpace(s[m[1]:end])})
	}
	return pairs
}

func sectionBetween(s, start string, stops ...string) string {
	if idx := strings.Index(s, start); idx >= 0 {
		s = s[idx+len(start):]
	} else {
		return ""
	}
	for _, stop := range stops {
		if idx := strings.Index(s, stop); idx >= 0 {
			s = s[:idx]
		}
	}
	return strings.TrimSpace(s)
}

// categoricalSlotValueMap recovers slot -> option letter -> value tables
// from the example input's [slots] section.
func categoricalSlotValueMap(inputStr, delimiter string) map[string]map[string]string {
	slotValues := sectionBetween(inputStr, slotsTok, contextTok, intentTok)
	slotToOptionToValue := map[string]map[string]string{}
	for _, kv := range parseAssignments(slotValues, delimiter) {
		slot, value := kv[0], kv[1]
		idx := strings.Index(value, catValIdentifier)
		if idx < 0 {
			continue
		}
		options := map[string]string{}
		for _, opt := range parseOptions(strings.TrimSpace(value[idx+len(catValIdentifier):])) {
			options[opt[0]] = opt[1]
		}
		slotToOptionToValue[slot] = options
	}
	return slotToOptionToValue
}

// intentMap recovers the option letter -> intent table from the example
// input's [intent] section.
func intentMap(inputStr string) (map[string]string, error) {
	intentStr := sectionBetween(inputStr, intentTok, contextTok)
	// Some prompt variants say "of possible options" here.
	idx := strings.Index(intentStr, catValIdentifier)
	if idx >= 0 {
		intentStr = intentStr[idx+len(catValIdentifier):]
	} else if idx = strings.Index(intentStr, "of possible options"); idx >= 0 {
		intentStr = intentStr[idx+len("of possible options"):]
	} else {
		return nil, fmt.Errorf("improperly formatted intent prompt: %s", intentStr)
	}

	optionToIntent := map[string]string{}
	for _, opt := range parseOptions(strings.TrimSpace(intentStr)) {
		optionToIntent[opt[0]] = opt[1]
	}
	return optionToIntent, nil
}

// normalizeValue maps a decoded option letter back to the categorical
// value. "none" drops the slot entirely.
func normalizeValue(slotName, value string, slotToOptionToValue map[string]map[string]string) string {
	value = strings.TrimSpace(value)
	if value == "none" {
		return ""
	}
	if options, ok := slotToOptionToValue[slotName]; ok {
		if mapped, found := options[value]; found {
			return mapped
		}
		if value != "dontcare" {
			log.Info().Str("slot", slotName).Str("value", value).Msg("prediction is not a valid option letter")
		}
	}
	return value
}

func anyList(v any) []any {
	s, _ := v.([]any)
	return s
}

// frameAt resolves one frame of a raw dialogue.
func frameAt(dialogue sgd.RawDialogue, turnID, frameID int) (map[string]any, bool) {
	turns := anyList(dialogue["turns"])
	if turnID < 0 || turnID >= len(turns) {
		return nil, false
	}
	turn, _ := turns[turnID].(map[string]any)
	frames := anyList(turn["frames"])
	if frameID < 0 || frameID >= len(frames) {
		return nil, false
	}
	frame, _ := frames[frameID].(map[string]any)
	return frame, frame != nil
}

// populatePredictions writes one frame prediction into its dialogue.
func populatePredictions(opts *ConvertOptions, byID map[string]sgd.RawDialogue, pred framePrediction) error {
	dialogue, ok := byID[pred.Input.DialogueID]
	if !ok {
		return fmt.Errorf("dialogue ID %s not found", pred.Input.DialogueID)
	}
	turnID, err := strconv.Atoi(pred.Input.TurnID)
	if err != nil {
		return fmt.Errorf("bad turn id %q: %w", pred.Input.TurnID, err)
	}
	frameID, err := strconv.Atoi(pred.Input.FrameID)
	if err != nil {
		return fmt.Errorf("bad frame id %q: %w", pred.Input.FrameID, err)
	}
	frame, ok := frameAt(dialogue, turnID, frameID)
	if !ok {
		return fmt.Errorf("dialogue %s has no frame %d in turn %d", pred.Input.DialogueID, frameID, turnID)
	}
	state, _ := frame["state"].(map[string]any)
	if state == nil {
		state = map[string]any{"active_intent": "NONE", "requested_slots": []any{}, "slot_values": map[string]any{}}
		frame["state"] = state
	}
	slotValues, _ := state["slot_values"].(map[string]any)
	if slotValues == nil {
		slotValues = map[string]any{}
		state["slot_values"] = slotValues
	}

	slotToOptionToValue := categoricalSlotValueMap(pred.Input.InputsPretokenized, opts.Delimiter)

	slotPreds := sectionBetween(pred.Prediction, stateTok, intentTok)
	for _, kv := range parseAssignments(slotPreds, opts.Delimiter) {
		if value := normalizeValue(kv[0], kv[1], slotToOptionToValue); value != "" {
			slotValues[kv[0]] = []any{value}
		}
	}

	if opts.EvaluateIntents && strings.Contains(pred.Prediction, intentTok) {
		optionToIntent, err := intentMap(pred.Input.InputsPretokenized)
		if err != nil {
			return err
		}
		intentPred := strings.TrimSpace(pred.Prediction[strings.Index(pred.Prediction, intentTok)+len(intentTok):])
		intent, ok := optionToIntent[intentPred]
		if !ok {
			intent = "NONE"
		}
		state["active_intent"] = intent
	}
	return nil
}

// ConvertPredictions reads the T5X JSONL predictions and writes
// dialogues_all.json in the DSTC8 evaluation format. Dialogues stay raw
// JSON end to end, so fields the typed model does not declare survive the
// round trip.
func ConvertPredictions(opts *ConvertOptions) error {
	byFile, err := sgd.LoadRawDialoguesByFile(opts.DataDir, opts.Split)
	if err != nil {
		return err
	}
	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	var dialogues []sgd.RawDialogue
	byID := map[string]sgd.RawDialogue{}
	for _, file := range files {
		for _, dialogue := range byFile[file] {
			id, _ := dialogue["dialogue_id"].(string)
			dialogues = append(dialogues, dialogue)
			byID[id] = dialogue
		}
	}

	// Erase ground truth states before reading predictions back in.
	for _, dialogue := range dialogues {
		for _, t := range anyList(dialogue["turns"]) {
			turn, _ := t.(map[string]any)
			for _, f := range anyList(turn["frames"]) {
				frame, _ := f.(map[string]any)
				if state, ok := frame["state"].(map[string]any); ok {
					state["slot_values"] = map[string]any{}
					state["requested_slots"] = []any{}
					state["active_intent"] = "NONE"
				}
			}
		}
	}

	predFile, err := os.Open(opts.PredictionsFile)
	if err != nil {
		return fmt.Errorf("read predictions: %w", err)
	}
	defer func() { _ = predFile.Close() }()

	scanner := bufio.NewScanner(predFile)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var pred framePrediction
		if err := json.Unmarshal([]byte(line), &pred); err != nil {
			return fmt.Errorf("decode prediction line: %w", err)
		}
		if err := populatePredictions(opts, byID, pred); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	out, err := json.MarshalIndent(dialogues, "", "  ")
	if err != nil {
		return err
	}
	outPath := filepath.Join(opts.OutputDir, "dialogues_all.json")
	if err := os.WriteFile(outPath, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	log.Info().Str("file", outPath).Int("dialogues", len(dialogues)).Msg("wrote converted predictions")
	return nil
}
