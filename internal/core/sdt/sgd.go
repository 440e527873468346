package sdt

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dialoglab/gtod/internal/core/sgd"
	"github.com/dialoglab/gtod/internal/log"
)

// SGDOptions configures SGD show-don't-tell data generation.
type SGDOptions struct {
	SGDDir string
	// SGDXDir, when set, loads dialogues from an SGD-X variant directory
	// and rewrites prompt slot names to match its schema.
	SGDXDir    string
	Subdirs    []string
	OutputPath string
	// Prompts is the demonstration table; nil uses the built-in SGD
	// table.
	Prompts       PromptTable
	PromptIndices []int
	ContextFormat ContextFormat
	TargetFormat  TargetFormat
	AddIntents    bool
	Lowercase     bool
	MCQCatVals    bool
	MCQIntents    bool
	RandomSlots   bool
	RandomCats    bool
	RandomInts    bool
	UseSlotIDs    bool
	// DataPercent samples a proportion of all examples; KShot samples a
	// fixed count per service. At most one may be set.
	DataPercent float64
	KShot       int
	// UseItemDescs enriches prompts with schema descriptions.
	UseItemDescs bool
	Rand         *rand.Rand
}

func (o *SGDOptions) rng() *rand.Rand {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return o.Rand
}

// Example is one rendered SDT line plus the services it came from.
type Example struct {
	Str      string
	Services []string
}

func buildExample(inputStrs []string, targetStr string, additionalStrs []string,
	services []string, lowercase bool) Example {

	str := strings.Join(inputStrs, " ") + "\t" + targetStr
	if len(additionalStrs) > 0 {
		str += "\t" + strings.Join(additionalStrs, "\t")
	}
	if lowercase {
		str = strings.ToLower(str)
	}
	return Example{Str: strings.TrimSpace(str), Services: services}
}

func utteranceStr(turn sgd.Turn) (string, error) {
	var prefix string
	switch turn.Speaker {
	case sgd.SpeakerUser:
		prefix = "[user]"
	case sgd.SpeakerSystem:
		prefix = "[system]"
	default:
		return "", fmt.Errorf("speaker must be %s or %s, got %q", sgd.SpeakerUser, sgd.SpeakerSystem, turn.Speaker)
	}
	// Occasionally utterances carry newlines in the middle.
	return prefix + " " + strings.ReplaceAll(turn.Utterance, "\n", " "), nil
}

// CreateExamplesFromDialogue renders every user frame of one dialogue.
func (o *SGDOptions) CreateExamplesFromDialogue(dialogue sgd.Dialogue, table PromptTable,
	descriptions map[string]ItemDesc) ([]Example, error) {

	promptOpts := &PromptOptions{
		PromptIndices: o.PromptIndices,
		AddIntents:    o.AddIntents,
		MCQCatVals:    o.MCQCatVals,
		MCQIntents:    o.MCQIntents,
		RandomSlots:   o.RandomSlots,
		RandomCats:    o.RandomCats,
		RandomInts:    o.RandomInts,
		UseSlotIDs:    o.UseSlotIDs,
		Descriptions:  descriptions,
		Rand:          o.rng(),
	}

	var uttStrs []string
	var examples []Example
	for turnIdx, turn := range dialogue.Turns {
		utt, err := utteranceStr(turn)
		if err != nil {
			return nil, fmt.Errorf("dialogue %s: %w", dialogue.DialogueID, err)
		}
		uttStrs = append(uttStrs, utt)

		// System turns carry no state to predict.
		if turn.Speaker != sgd.SpeakerUser {
			continue
		}

		for frameIdx, frame := range turn.Frames {
			if frame.State == nil {
				return nil, fmt.Errorf("dialogue %s: user frame %d of turn %d has no state", dialogue.DialogueID, frameIdx, turnIdx)
			}

			prompt, err := GeneratePromptStr([]string{frame.Service}, table, promptOpts)
			if err != nil {
				return nil, fmt.Errorf("dialogue %s: %w", dialogue.DialogueID, err)
			}
			contextStr, err := GenerateContextStr(uttStrs, o.ContextFormat)
			if err != nil {
				return nil, err
			}
			targetStr, err := GenerateTargetStr(frame.State.SlotValues, frame.State.ActiveIntent,
				o.AddIntents, prompt, o.TargetFormat, o.UseSlotIDs)
			if err != nil {
				return nil, fmt.Errorf("dialogue %s turn %d: %w", dialogue.DialogueID, turnIdx, err)
			}

			examples = append(examples, buildExample(
				[]string{prompt.Str, contextStr},
				targetStr,
				[]string{dialogue.DialogueID, strconv.Itoa(turnIdx), strconv.Itoa(frameIdx)},
				dialogue.Services,
				o.Lowercase,
			))
		}
	}
	return examples, nil
}

// schemaDescriptions indexes slot and intent descriptions by service
// across every subdir schema.
func schemaDescriptions(dataDir string, subdirs []string) (map[string]ItemDesc, error) {
	bySubdir := make(map[string][]sgd.RawSchema, len(subdirs))
	for _, subdir := range subdirs {
		schemas, err := sgd.LoadRawSchemas(dataDir, subdir)
		if err != nil {
			return nil, err
		}
		bySubdir[subdir] = schemas
	}

	descriptions := map[string]ItemDesc{}
	for name, schema := range sgd.DedupeSchemas(bySubdir) {
		desc := ItemDesc{Slots: map[string]string{}, Intents: map[string]string{}}
		for _, s := range anyList(schema["slots"]) {
			slot, _ := s.(map[string]any)
			slotName, _ := slot["name"].(string)
			slotDesc, _ := slot["description"].(string)
			desc.Slots[slotName] = slotDesc
		}
		for _, i := range anyList(schema["intents"]) {
			intent, _ := i.(map[string]any)
			intentName, _ := intent["name"].(string)
			intentDesc, _ := intent["description"].(string)
			desc.Intents[intentName] = intentDesc
		}
		descriptions[name] = desc
	}
	return descriptions, nil
}

// sample applies the data_percent / k_shot sampling options.
func (o *SGDOptions) sample(examples []Example) ([]Example, error) {
	switch {
	case o.DataPercent > 0:
		r := o.rng()
		shuffled := append([]Example(nil), examples...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		return shuffled[:int(o.DataPercent*float64(len(shuffled)))], nil

	case o.KShot > 0:
		byService := map[string][]Example{}
		var services []string
		for _, example := range examples {
			for _, service := range example.Services {
				if _, ok := byService[service]; !ok {
					services = append(services, service)
				}
				byService[service] = append(byService[service], example)
			}
		}
		sort.Strings(services)

		r := o.rng()
		var sampled []Example
		for _, service := range services {
			pool := append([]Example(nil), byService[service]...)
			if len(pool) < o.KShot {
				return nil, fmt.Errorf("service %s has %d examples, fewer than k=%d", service, len(pool), o.KShot)
			}
			r.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
			sampled = append(sampled, pool[:o.KShot]...)
		}
		return sampled, nil
	}
	return examples, nil
}

// GenerateSGD renders the chosen subdirs into one SDT output file.
func GenerateSGD(opts *SGDOptions) error {
	if opts.DataPercent > 0 && opts.KShot > 0 {
		return fmt.Errorf("only one of data_percent and k_shot can be set")
	}

	table := opts.Prompts
	if table == nil {
		table = SGDPrompts()
	}

	dataDir := opts.SGDDir
	if opts.SGDXDir != "" {
		dataDir = opts.SGDXDir
		var err error
		if table, err = SGDXPrompts(table, opts.SGDDir, opts.SGDXDir, opts.Subdirs); err != nil {
			return err
		}
	}

	var descriptions map[string]ItemDesc
	if opts.UseItemDescs {
		var err error
		if descriptions, err = schemaDescriptions(dataDir, opts.Subdirs); err != nil {
			return err
		}
	}

	var examples []Example
	for _, subdir := range opts.Subdirs {
		log.Info().Str("subdir", subdir).Msg("processing subdir")
		dialogues, err := sgd.LoadDialogues(filepath.Join(dataDir, subdir))
		if err != nil {
			return err
		}
		for _, dialogue := range dialogues {
			dlgExamples, err := opts.CreateExamplesFromDialogue(dialogue, table, descriptions)
			if err != nil {
				return err
			}
			examples = append(examples, dlgExamples...)
		}
	}

	examples, err := opts.sample(examples)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	var sb strings.Builder
	for _, example := range examples {
		sb.WriteString(example.Str)
		sb.WriteByte('\n')
	}
	if err := os.WriteFile(opts.OutputPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write examples: %w", err)
	}
	log.Info().Str("file", filepath.Base(opts.OutputPath)).Int("examples", len(examples)).Msg("wrote examples")
	return nil
}
