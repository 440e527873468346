package sdt

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dialoglab/gtod/internal/core/multiwoz"
	"github.com/dialoglab/gtod/internal/core/texttotext"
)

// MultiWOZDomains is the fixed prompt domain list used when active-domain
// filtering is off.
var MultiWOZDomains = []string{
	"attraction", "bus", "hospital", "hotel", "restaurant", "taxi", "train",
}

// MultiWOZOptions configures MultiWOZ show-don't-tell data generation.
type MultiWOZOptions struct {
	DataDir   string
	OutputDir string
	Version   multiwoz.Version
	IsTrade   bool
	// Prompts is the demonstration table; nil uses the built-in MultiWOZ
	// table.
	Prompts              PromptTable
	PromptIndices        []int
	ContextFormat        ContextFormat
	TargetFormat         TargetFormat
	Lowercase            bool
	MCQCatVals           bool
	RandomSlots          bool
	RandomCats           bool
	Shuffle              bool
	UseActiveDomainsOnly bool
	BlockedDomains       map[string]bool
	Rand                 *rand.Rand
}

func (o *MultiWOZOptions) rng() *rand.Rand {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return o.Rand
}

// normalizeSlotValues breaks annotation separators into value lists, the
// way the state targets expect them. 2.2 annotates alternatives explicitly
// and a value without a separator is malformed there; other versions treat
// it as a singleton.
func (o *MultiWOZOptions) normalizeSlotValues(beliefState *multiwoz.BeliefState) (map[string][]string, error) {
	state := make(map[string][]string, beliefState.Len())
	for _, name := range beliefState.Order {
		value := beliefState.Values[name]
		var split []string
		for _, sep := range []string{"|", ">", "<"} {
			if strings.Contains(value, sep) {
				split = strings.Split(value, sep)
				break
			}
		}
		if split == nil {
			if o.Version == multiwoz.V22 {
				return nil, fmt.Errorf("slot %s: invalid values %q", name, value)
			}
			split = []string{value}
		}
		state[name] = split
	}
	return state, nil
}

func (o *MultiWOZOptions) processOneTurn(table PromptTable, dialogID string, turn int,
	beliefState *multiwoz.BeliefState, history []string) (texttotext.Example, error) {

	domains := MultiWOZDomains
	if o.UseActiveDomainsOnly {
		active := multiwoz.ExtractDomains(beliefState)
		domains = make([]string, 0, len(active))
		for domain := range active {
			domains = append(domains, domain)
		}
	}
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)

	prompt, err := GeneratePromptStr(sorted, table, &PromptOptions{
		PromptIndices: o.PromptIndices,
		MCQCatVals:    o.MCQCatVals,
		RandomSlots:   o.RandomSlots,
		RandomCats:    o.RandomCats,
		Rand:          o.rng(),
	})
	if err != nil {
		return texttotext.Example{}, err
	}

	contextStr, err := GenerateContextStr(history, o.ContextFormat)
	if err != nil {
		return texttotext.Example{}, err
	}

	state, err := o.normalizeSlotValues(beliefState)
	if err != nil {
		return texttotext.Example{}, fmt.Errorf("dialogue %s turn %d: %w", dialogID, turn, err)
	}
	targetStr, err := GenerateTargetStr(state, "", false,
		prompt, o.TargetFormat, false)
	if err != nil {
		return texttotext.Example{}, fmt.Errorf("dialogue %s turn %d: %w", dialogID, turn, err)
	}

	promptStr := prompt.Str
	if o.Lowercase {
		promptStr = strings.ToLower(promptStr)
		contextStr = strings.ToLower(contextStr)
		targetStr = strings.ToLower(targetStr)
	}

	return texttotext.Example{
		Src:      strings.TrimSpace(promptStr + " " + strings.TrimSpace(contextStr)),
		Tgt:      targetStr,
		DialogID: dialogID,
		Turn:     turn,
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

// createExamples renders one raw split into SDT examples.
func (o *MultiWOZOptions) createExamples(split multiwoz.SplitData, table PromptTable) ([]texttotext.Example, error) {
	var examples []texttotext.Example
	for _, dialogID := range split.Order {
		dialogJSON := split.ByID[dialogID]
		var history []string

		if o.IsTrade {
			rounds, _ := dialogJSON["dialogue"].([]any)
			for turn, entry := range rounds {
				roundJSON, _ := entry.(map[string]any)
				sysUtt := cleanUtt(roundJSON["system_transcript"])
				userUtt := cleanUtt(roundJSON["transcript"])
				if turn == 0 {
					history = append(history, "[user] "+userUtt)
				} else {
					history = append(history, "[system] "+sysUtt+" [user] "+userUtt)
				}

				beliefState, err := multiwoz.ExtractBeliefState(roundJSON["belief_state"], true)
				if err != nil {
					return nil, fmt.Errorf("dialogue %s: %w", dialogID, err)
				}
				if o.blocked(multiwoz.ExtractDomains(beliefState)) {
					continue
				}
				example, err := o.processOneTurn(table, dialogID, turn, beliefState, history)
				if err != nil {
					return nil, err
				}
				examples = append(examples, example)
			}
			continue
		}

		entries, _ := dialogJSON["log"].([]any)
		for turn, entry := range entries {
			utteranceJSON, _ := entry.(map[string]any)
			isSystem := turn%2 == 1

			if isSystem {
				beliefState, err := multiwoz.ExtractBeliefState(utteranceJSON["metadata"], false)
				if err != nil {
					return nil, fmt.Errorf("dialogue %s: %w", dialogID, err)
				}
				// A blocked domain drops the turn from the history too.
				if o.blocked(multiwoz.ExtractDomains(beliefState)) {
					continue
				}
				example, err := o.processOneTurn(table, dialogID, turn, beliefState, history)
				if err != nil {
					return nil, err
				}
				examples = append(examples, example)
			}

			speaker := "[user]"
			if isSystem {
				speaker = "[system]"
			}
			history = append(history, speaker+" "+cleanUtt(utteranceJSON["text"]))
		}
	}
	return examples, nil
}

func cleanUtt(v any) string {
	s, _ := v.(string)
	s = strings.ReplaceAll(strings.TrimSpace(s), "\t", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

// GenerateMultiWOZ converts the corpus into per-split SDT TSV files, plus
// a combined dev_test split.
func GenerateMultiWOZ(opts *MultiWOZOptions) error {
	table := opts.Prompts
	if table == nil {
		table = MultiWOZPrompts()
	}

	data, err := multiwoz.Load(opts.DataDir, opts.Version, opts.IsTrade)
	if err != nil {
		return err
	}

	splits := map[string][]texttotext.Example{}
	for split, splitData := range map[string]multiwoz.SplitData{
		"train": data.Train, "dev": data.Dev, "test": data.Test,
	} {
		if splits[split], err = opts.createExamples(splitData, table); err != nil {
			return err
		}
	}

	if opts.Shuffle {
		r := opts.rng()
		for _, examples := range splits {
			r.Shuffle(len(examples), func(i, j int) { examples[i], examples[j] = examples[j], examples[i] })
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
