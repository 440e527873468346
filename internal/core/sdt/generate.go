package sdt

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
)

// ContextFormat selects how the dialogue context is rendered.
type ContextFormat string

// TargetFormat selects which slots appear in the target.
type TargetFormat string

// PromptFormat selects how the demonstration is rendered.
type PromptFormat string

const (
	// ContextDialogue renders the context as the running dialogue.
	ContextDialogue ContextFormat = "dialogue"
	// TargetAll puts every prompt slot in the target, "none" when absent.
	TargetAll TargetFormat = "all"
	// TargetActive puts only slots with values in the target.
	TargetActive TargetFormat = "active"
	// PromptSeparated renders a dialogue followed by a separate string of
	// slots.
	PromptSeparated PromptFormat = "separated"
)

// ParseContextFormat validates a context format string.
func ParseContextFormat(s string) (ContextFormat, error) {
	if ContextFormat(s) == ContextDialogue {
		return ContextDialogue, nil
	}
	return "", fmt.Errorf("invalid context format %q (want dialogue)", s)
}

// ParseTargetFormat validates a target format string.
func ParseTargetFormat(s string) (TargetFormat, error) {
	switch TargetFormat(s) {
	case TargetAll, TargetActive:
		return TargetFormat(s), nil
	}
	return "", fmt.Errorf("invalid target format %q (want all or active)", s)
}

// ParsePromptFormat validates a prompt format string.
func ParsePromptFormat(s string) (PromptFormat, error) {
	if PromptFormat(s) == PromptSeparated {
		return PromptSeparated, nil
	}
	return "", fmt.Errorf("invalid prompt format %q (want separated)", s)
}

const (
	exampleTok = "[example]"
	slotsTok   = "[slots]"
	intentTok  = "[intent]"
	contextTok = "[context]"
	stateTok   = "[state]"

	// catValIdentifier introduces a multiple choice inventory; the
	// prediction converter keys on it.
	catValIdentifier = "of possible values"

	slotValueDelimiter = "="

	letters = "abcdefghijklmnopqrstuvwxyz"
)

// ItemDesc carries slot and intent descriptions for one service, used to
// enrich prompts with schema descriptions.
type ItemDesc struct {
	Slots   map[string]string
	Intents map[string]string
}

// PromptOptions configures demonstration prompt rendering.
type PromptOptions struct {
	// PromptIndices picks which of a key's prompts to use; nil means all.
	PromptIndices []int
	AddIntents    bool
	// MCQCatVals enumerates categorical values as multiple choice
	// options; MCQIntents does the same for intents.
	MCQCatVals  bool
	MCQIntents  bool
	UseSlotIDs  bool
	RandomSlots bool
	RandomCats  bool
	RandomInts  bool
	// Descriptions optionally adds schema descriptions to the prompt,
	// keyed by service.
	Descriptions map[string]ItemDesc
	Rand         *rand.Rand
}

func (o *PromptOptions) rng() *rand.Rand {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return o.Rand
}

// PromptResult is a rendered prompt plus the lookup tables the target
// builder needs to stay consistent with it.
type PromptResult struct {
	Str string
	// OrderedSlots lists the prompt's slots in rendered order.
	OrderedSlots []string
	// CatValToID maps slot -> categorical value -> option letter.
	CatValToID map[string]map[string]string
	// IntentToID maps intent name -> option letter.
	IntentToID map[string]string
}

// GeneratePromptStr renders the demonstration prompt for the given keys
// (SGD services or MultiWOZ domains).
func GeneratePromptStr(keys []string, table PromptTable, opts *PromptOptions) (*PromptResult, error) {
	result := &PromptResult{
		CatValToID: map[string]map[string]string{},
		IntentToID: map[string]string{},
	}

	var pieces []string
	for _, key := range keys {
		prompts, ok := table[key]
		if !ok {
			return nil, fmt.Errorf("no prompts for %q", key)
		}
		selected := prompts
		if opts.PromptIndices != nil {
			selected = nil
			for _, idx := range opts.PromptIndices {
				if idx < 0 || idx >= len(prompts) {
					return nil, fmt.Errorf("prompt index %d out of range for %q (%d prompts)", idx, key, len(prompts))
				}
				selected = append(selected, prompts[idx])
			}
		}
		for _, prompt := range selected {
			piece, err := opts.renderPrompt(key, prompt, result)
			if err != nil {
				return nil, err
			}
			pieces = append(pieces, piece)
		}
	}

	result.Str = strings.Join(pieces, " ")
	return result, nil
}

func (o *PromptOptions) renderPrompt(key string, prompt Prompt, result *PromptResult) (string, error) {
	var sb strings.Builder
	sb.WriteString(exampleTok)
	sb.WriteByte(' ')
	sb.WriteString(strings.Join(prompt.Dialogue, " "))
	sb.WriteByte(' ')
	sb.WriteString(slotsTok)

	slotNames := append([]string(nil), prompt.SlotOrder...)
	if o.RandomSlots {
		r := o.rng()
		r.Shuffle(len(slotNames), func(i, j int) { slotNames[i], slotNames[j] = slotNames[j], slotNames[i] })
	}

	var descs *ItemDesc
	if o.Descriptions != nil {
		if d, ok := o.Descriptions[key]; ok {
			descs = &d
		}
	}

	for _, name := range slotNames {
		slotID := len(result.OrderedSlots)
		result.OrderedSlots = append(result.OrderedSlots, name)

		rendered := name
		if o.UseSlotIDs {
			rendered = strconv.Itoa(slotID)
		}
		sb.WriteByte(' ')
		sb.WriteString(rendered)
		sb.WriteString(slotValueDelimiter)

		if descs != nil {
			if desc, ok := descs.Slots[name]; ok {
				sb.WriteString("(" + desc + ") ")
			}
		}

		demoValue, ok := prompt.Slots[name]
		if !ok {
			return "", fmt.Errorf("prompt for %q: slot %s has no demo value", key, name)
		}

		catVals := prompt.CatValues[name]
		if o.MCQCatVals && len(catVals) > 0 {
			if len(catVals) > len(letters) {
				return "", fmt.Errorf("slot %s has %d categorical values, more than the option alphabet", name, len(catVals))
			}
			values := append([]string(nil), catVals...)
			if o.RandomCats {
				r := o.rng()
				r.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
			}
			valToID := map[string]string{}
			demoLetter := ""
			var optPieces []string
			for i, value := range values {
				letter := string(letters[i])
				valToID[value] = letter
				if value == demoValue {
					demoLetter = letter
				}
				optPieces = append(optPieces, fmt.Sprintf("%s) %s", letter, value))
			}
			if demoLetter == "" {
				return "", fmt.Errorf("slot %s: demo value %q not among categorical values %v", name, demoValue, values)
			}
			result.CatValToID[name] = valToID
			sb.WriteString(demoLetter + " " + catValIdentifier + " " + strings.Join(optPieces, " "))
		} else {
			sb.WriteString(demoValue)
		}
	}

	if o.AddIntents {
		intents := append([]string(nil), prompt.Intents...)
		if o.RandomInts {
			r := o.rng()
			r.Shuffle(len(intents), func(i, j int) { intents[i], intents[j] = intents[j], intents[i] })
		}
		sb.WriteByte(' ')
		sb.WriteString(intentTok)
		sb.WriteByte(' ')
		if o.MCQIntents {
			if len(intents) > len(letters) {
				return "", fmt.Errorf("prompt for %q has %d intents, more than the option alphabet", key, len(intents))
			}
			demoLetter := ""
			var optPieces []string
			for i, intent := range intents {
				letter := string(letters[i])
				result.IntentToID[intent] = letter
				if intent == prompt.ActiveIntent {
					demoLetter = letter
				}
				optPieces = append(optPieces, fmt.Sprintf("%s) %s", letter, intent))
			}
			if demoLetter == "" {
				return "", fmt.Errorf("prompt for %q: active intent %q not among intents %v", key, prompt.ActiveIntent, intents)
			}
			sb.WriteString(demoLetter + " " + catValIdentifier + " " + strings.Join(optPieces, " "))
		} else {
			sb.WriteString(prompt.ActiveIntent)
		}
	}

	return sb.String(), nil
}

// GenerateContextStr renders the dialogue history as the example context.
func GenerateContextStr(utterances []string, format ContextFormat) (string, error) {
	if format != ContextDialogue {
		return "", fmt.Errorf("invalid context format %q", format)
	}
	joined := strings.ReplaceAll(strings.Join(utterances, " "), "\n", " ")
	return contextTok + " " + joined, nil
}

// GenerateTargetStr renders the dialogue state target matching a rendered
// prompt.
func GenerateTargetStr(state map[string][]string, activeIntent string, addIntents bool,
	prompt *PromptResult, format TargetFormat, useSlotIDs bool) (string, error) {

	var pieces []string
	covered := map[string]bool{}
	for slotID, name := range prompt.OrderedSlots {
		covered[name] = true
		values, present := state[name]
		if !present || len(values) == 0 {
			if format == TargetActive {
				continue
			}
			values = []string{"none"}
		}

		if valToID, ok := prompt.CatValToID[name]; ok {
			mapped := make([]string, len(values))
			for i, value := range values {
				if letter, found := valToID[value]; found && value != "none" && value != "dontcare" {
					mapped[i] = letter
				} else {
					mapped[i] = value
				}
			}
			values = mapped
		}

		rendered := name
		if useSlotIDs {
			rendered = strconv.Itoa(slotID)
		}
		pieces = append(pieces, rendered+slotValueDelimiter+strings.Join(values, " | "))
	}

	// Slots tracked in the state but absent from the prompt would be
	// silently dropped; surface them instead.
	var missing []string
	for name := range state {
		if !covered[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("state slots not in prompt: %s", strings.Join(missing, ", "))
	}

	target := stateTok + " " + strings.Join(pieces, " ")
	if addIntents {
		intent := activeIntent
		if letter, ok := prompt.IntentToID[activeIntent]; ok {
			intent = letter
		}
		target += " " + intentTok + " " + intent
	}
	return strings.TrimSpace(target), nil
}
