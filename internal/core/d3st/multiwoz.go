package d3st

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dialoglab/gtod/internal/core/multiwoz"
	"github.com/dialoglab/gtod/internal/core/texttotext"
	"github.com/dialoglab/gtod/internal/log"
)

// MultiWOZOptions configures MultiWOZ schemaless data generation. IsTrade
// switches to the TRADE-preprocessed 2.1 corpus layout.
type MultiWOZOptions struct {
	MultiWOZDir string
	OutputDir   string
	// SchemaFile is a MultiWOZ schema file in the 2.2/SGD format.
	SchemaFile      string
	Version         multiwoz.Version
	IsTrade         bool
	DescriptionType DescriptionType
	Delimiter       string
	MultipleChoice  MultipleChoiceFormat
	// UseActiveDomainsOnly restricts the prompt to domains active in the
	// dialogue so far.
	UseActiveDomainsOnly bool
	// BlockedDomains drops turns mentioning these domains, for zero-shot
	// cross-domain experiments.
	BlockedDomains map[string]bool
	// UseTargetSeparators joins target slot-value pairs with ";".
	UseTargetSeparators bool
	Rand                *rand.Rand
}

func (o *MultiWOZOptions) rng() *rand.Rand {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return o.Rand
}

// multipleChoiceAnswer maps a belief state value onto its option letter.
// TRADE data often strips spaces from categorical values, and typos like
// "guest house" for "guesthouse" are common, so unmatched values fall
// back to the closest possible value before giving up with "unknown".
func (o *MultiWOZOptions) multipleChoiceAnswer(slotID int, possibleValues []string, value string) string {
	if value == "none" || value == "dontcare" {
		return value
	}
	if value == "guest house" {
		value = "guesthouse"
	}

	idx := indexOf(possibleValues, value)
	if idx < 0 {
		idx = indexOf(possibleValues, strings.ReplaceAll(value, " ", ""))
	}
	if idx < 0 {
		best, bestDist := -1, 3
		for i, pv := range possibleValues {
			if d := levenshtein.ComputeDistance(value, pv); d < bestDist {
				best, bestDist = i, d
			}
		}
		idx = best
	}
	if idx < 0 {
		log.Warn().Str("value", value).Strs("possible", possibleValues).Msg("value not in possible values")
		return "unknown"
	}

	letter := string(letters[idx])
	if o.MultipleChoice == MCIndexedLetter {
		return fmt.Sprintf("%d%s", slotID, letter)
	}
	return letter
}

// splitValues breaks a belief state value on the annotation separators.
// 2.2 annotates alternatives explicitly and anything without a separator
// is malformed there; other versions treat the value as a singleton.
func (o *MultiWOZOptions) splitValues(value string) ([]string, error) {
	for _, sep := range []string{"|", ">", "<"} {
		if strings.Contains(value, sep) {
			return strings.Split(value, sep), nil
		}
	}
	if !o.IsTrade && o.Version == multiwoz.V22 {
		return nil, fmt.Errorf("invalid values %q", value)
	}
	return []string{value}, nil
}

func (o *MultiWOZOptions) slotDescription(slotID int, slotName, fullDesc string) (string, error) {
	switch o.DescriptionType {
	case DescFullDesc:
		return fmt.Sprintf("%d%s%s", slotID, o.Delimiter, fullDesc), nil
	case DescFullDescWithDomain:
		return fmt.Sprintf("%d%s%s-%s", slotID, o.Delimiter, multiwoz.Domain(slotName), fullDesc), nil
	case DescItemName:
		return fmt.Sprintf("%d%s%s", slotID, o.Delimiter, slotName), nil
	case DescShuffledItemName:
		return fmt.Sprintf("%d%s%s", slotID, o.Delimiter, shuffledName(o.rng(), slotName)), nil
	}
	return "", fmt.Errorf("invalid description type %q", o.DescriptionType)
}

// processOneTurn renders one dialogue turn into a text-to-text example.
func (o *MultiWOZOptions) processOneTurn(dialogID string, turn int, beliefState *multiwoz.BeliefState,
	historyStr string, activeDomains map[string]bool, schema *multiwoz.SchemaInfo,
	slotDescriptions map[string][]string) (texttotext.Example, error) {

	// Slots are prompted as "i<delim>description" under a random
	// ordering.
	slotNames := make([]string, 0, len(slotDescriptions))
	for name := range slotDescriptions {
		if o.UseActiveDomainsOnly && !activeDomains[multiwoz.Domain(name)] {
			continue
		}
		slotNames = append(slotNames, name)
	}
	sort.Strings(slotNames)
	r := o.rng()
	r.Shuffle(len(slotNames), func(i, j int) { slotNames[i], slotNames[j] = slotNames[j], slotNames[i] })

	var prefixPieces, statePieces []string
	for i, slotName := range slotNames {
		domain := multiwoz.Domain(slotName)

		// slot_descriptions.json carries several paraphrases per slot;
		// only the first is used.
		descs := slotDescriptions[slotName]
		if len(descs) == 0 {
			return texttotext.Example{}, fmt.Errorf("slot %s has no description", slotName)
		}
		desc, err := o.slotDescription(i, slotName, descs[0])
		if err != nil {
			return texttotext.Example{}, err
		}

		slot, ok := schema.SlotsByDomain[domain][slotName]
		if !ok {
			return texttotext.Example{}, fmt.Errorf("slot %s not in schema", slotName)
		}

		var possibleValues []string
		if o.MultipleChoice != MCNone && slot.IsCategorical {
			possibleValues = append([]string(nil), slot.PossibleValues...)
			r.Shuffle(len(possibleValues), func(a, b int) {
				possibleValues[a], possibleValues[b] = possibleValues[b], possibleValues[a]
			})
			if len(possibleValues) >= len(letters) {
				return texttotext.Example{}, fmt.Errorf("slot %s has %d possible values, more than the option alphabet", slotName, len(possibleValues))
			}
			var pieces []string
			for j, value := range possibleValues {
				if o.DescriptionType == DescShuffledItemName {
					value = shuffledName(r, value)
				}
				if o.MultipleChoice == MCIndexedLetter {
					pieces = append(pieces, fmt.Sprintf("%d%c) %s", i, letters[j], value))
				} else {
					pieces = append(pieces, fmt.Sprintf("%c) %s", letters[j], value))
				}
			}
			desc += " " + strings.Join(pieces, " ")
		}
		prefixPieces = append(prefixPieces, desc)

		value, tracked := beliefState.Get(slotName)
		if !tracked {
			continue
		}
		values, err := o.splitValues(value)
		if err != nil {
			return texttotext.Example{}, err
		}
		if o.MultipleChoice != MCNone && slot.IsCategorical {
			for j, v := range values {
				values[j] = o.multipleChoiceAnswer(i, possibleValues, v)
			}
		}
		statePieces = append(statePieces, fmt.Sprintf("%d%s%s", i, o.Delimiter, strings.Join(values, " | ")))
	}

	// Every tracked slot must land in the target.
	if len(statePieces) != beliefState.Len() {
		return texttotext.Example{}, fmt.Errorf("dialogue %s turn %d: %d state pieces for %d tracked slots",
			dialogID, turn, len(statePieces), beliefState.Len())
	}

	stateSeparator := " "
	if o.UseTargetSeparators {
		stateSeparator = " ; "
	}
	stateStr := "[states] " + strings.Join(statePieces, stateSeparator)

	return texttotext.Example{
		Src: strings.TrimSpace(strings.Join(prefixPieces, " ") + " " + strings.TrimSpace(historyStr)),
		// Intents and requested slots are not annotated here; empty
		// sections keep the target grammar aligned with SGD.
		Tgt:      strings.TrimSpace(stateStr) + " [intents] [req_slots]",
		DialogID: dialogID,
		Turn:     turn,
		Metadata: map[string]string{"slot_ordering": strings.Join(slotNames, ", ")},
	}, nil
}

func (o *MultiWOZOptions) blocked(domains map[string]bool) bool {
	for d := range domains {
		if o.BlockedDomains[d] {
			return true
		}
	}
	return false
}

// createExamples renders the typed plain-form dialogues. States only
// appear at system turns.
func (o *MultiWOZOptions) createExamples(dialogs []multiwoz.Dialog, schema *multiwoz.SchemaInfo,
	slotDescriptions map[string][]string) ([]texttotext.Example, error) {

	var examples []texttotext.Example
	for _, dialog := range dialogs {
		historyStr := ""
		for turnNum, turn := range dialog.Turns {
			isSystem := turnNum%2 == 1
			speaker := "user"
			if isSystem {
				speaker = "system"
			}

			domainsInTurn := multiwoz.ExtractDomains(turn.BeliefState)
			if isSystem {
				// A blocked domain drops the turn from the history too.
				if o.blocked(domainsInTurn) {
					continue
				}
				example, err := o.processOneTurn(dialog.DialogID, turnNum, turn.BeliefState,
					historyStr, domainsInTurn, schema, slotDescriptions)
				if err != nil {
					return nil, err
				}
				examples = append(examples, example)
			}
			historyStr += fmt.Sprintf("[%s] %s ", speaker, turn.Utterance)
		}
	}
	return examples, nil
}

// createTradeExamples renders one TRADE-preprocessed split. Every entry
// bundles the system and user utterance of a round, and states appear at
// every round.
func (o *MultiWOZOptions) createTradeExamples(split multiwoz.SplitData, schema *multiwoz.SchemaInfo,
	slotDescriptions map[string][]string) ([]texttotext.Example, error) {

	var examples []texttotext.Example
	for _, dialogID := range split.Order {
		rounds, _ := split.ByID[dialogID]["dialogue"].([]any)
		historyStr := ""
		for turn, entry := range rounds {
			roundJSON, _ := entry.(map[string]any)
			sysUtt := cleanUtterance(roundJSON["system_transcript"])
			userUtt := cleanUtterance(roundJSON["transcript"])
			beliefState, err := multiwoz.ExtractBeliefState(roundJSON["belief_state"], true)
			if err != nil {
				return nil, fmt.Errorf("dialogue %s: %w", dialogID, err)
			}

			if turn == 0 {
				historyStr += fmt.Sprintf("[user] %s ", userUtt)
			} else {
				historyStr += fmt.Sprintf("[system] %s [user] %s ", sysUtt, userUtt)
			}

			domainsInTurn := multiwoz.ExtractDomains(beliefState)
			if o.blocked(domainsInTurn) {
				continue
			}
			example, err := o.processOneTurn(dialogID, turn, beliefState,
				historyStr, domainsInTurn, schema, slotDescriptions)
			if err != nil {
				return nil, err
			}
			examples = append(examples, example)
		}
	}
	return examples, nil
}

func cleanUtterance(v any) string {
	s, _ := v.(string)
	return strings.ReplaceAll(strings.TrimSpace(s), "\t", " ")
}

// GenerateMultiWOZ converts the corpus into per-split TSV files, plus a
// combined dev_test split.
func GenerateMultiWOZ(opts *MultiWOZOptions) error {
	schema, err := multiwoz.LoadSchema(opts.SchemaFile)
	if err != nil {
		return err
	}

	splits := map[string][]texttotext.Example{}
	if opts.IsTrade {
		data, err := multiwoz.Load(opts.MultiWOZDir, multiwoz.V21, true)
		if err != nil {
			return err
		}
		for split, splitData := range map[string]multiwoz.SplitData{
			"train": data.Train, "dev": data.Dev, "test": data.Test,
		} {
			if splits[split], err = opts.createTradeExamples(splitData, schema, data.SlotDescriptions); err != nil {
				return err
			}
		}
	} else {
		data, err := multiwoz.LoadDialogs(opts.MultiWOZDir, opts.Version)
		if err != nil {
			return err
		}
		for split, dialogs := range map[string][]multiwoz.Dialog{
			"train": data.Train, "dev": data.Dev, "test": data.Test,
		} {
			if splits[split], err = opts.createExamples(dialogs, schema, data.SlotDescriptions); err != nil {
				return err
			}
		}
	}
	splits["dev_test"] = append(append([]texttotext.Example(nil), splits["dev"]...), splits["test"]...)

	for _, split := range []string{"train", "dev", "test", "dev_test"} {
		path := filepath.Join(opts.OutputDir, split+".tsv")
		if err := texttotext.WriteTSV(splits[split], path, false); err != nil {
			return err
		}
	}
	return nil
}
