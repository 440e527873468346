package d3st

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dialoglab/gtod/internal/core/sgd"
	"github.com/dialoglab/gtod/internal/core/texttotext"
)

// SGDOptions configures SGD schemaless data generation.
type SGDOptions struct {
	// SGDFile is a dialogue JSON file or a split directory containing
	// dialogues*.json shards.
	SGDFile    string
	SchemaFile string
	OutputFile string
	// Delimiter separates slot/intent ids from their descriptions and
	// values.
	Delimiter                 string
	Level                     GenerationLevel
	DataFormat                DataFormat
	Lowercase                 bool
	RandomizeItems            bool
	MultipleChoice            MultipleChoiceFormat
	DataPercent               float64
	UniformDomainDistribution bool
	AddHeader                 bool
	Rand                      *rand.Rand
}

func (o *SGDOptions) rng() *rand.Rand {
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(rand.Int63()))
	}
	return o.Rand
}

// ValidateSplitDir checks that dir looks like an SGD split directory and
// returns the schema file path inside it.
func ValidateSplitDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("directory %q is not a valid directory", dir)
	}
	schemaFile := filepath.Join(dir, "schema.json")
	if info, err := os.Stat(schemaFile); err != nil || info.IsDir() {
		return "", fmt.Errorf("schema file not found at %q", schemaFile)
	}
	files, err := sgd.DialogueFiles(dir)
	if err != nil || len(files) == 0 {
		return "", fmt.Errorf("no dialogue JSON files found at %q", dir)
	}
	return schemaFile, nil
}

// turnInfo accumulates the strings extracted from dialogue turns.
type turnInfo struct {
	outCtx         string
	outCtxWithDesc string
	outState       string
	outAct         string
	currUtt        string
	outIntent      string
	userTurn       bool
	turnDomain     string
	dialogueID     string
	turnID         string
	frameID        string
}

// SchemaInfo indexes schema items for generation. Key order follows the
// schema file so generated states keep a consistent ordering.
type SchemaInfo struct {
	SlotKeys        []string
	Slots           map[string]string
	IntentKeys      []string
	Intents         map[string]string
	IsCategorical   map[string]bool
	PossibleValues  map[string][]string
	SlotsRandName   map[string]string
	IntentsRandName map[string]string
}

// frameState gathers per-frame description pieces.
type frameState struct {
	slotDesc   []string
	intentDesc []string
	intentIDs  []string
	reqSlots   []string
}

// cumulativeState tracks slot values across a dialogue in schema order.
type cumulativeState struct {
	keys   []string
	values map[string]string
}

func (c *cumulativeState) clone() *cumulativeState {
	values := make(map[string]string, len(c.values))
	for k, v := range c.values {
		values[k] = v
	}
	return &cumulativeState{keys: c.keys, values: values}
}

func mergeDomainSlot(domain, slotName string) string {
	return domain + "-" + slotName
}

func shuffledName(r *rand.Rand, name string) string {
	runes := []rune(name)
	r.Shuffle(len(runes), func(i, j int) { runes[i], runes[j] = runes[j], runes[i] })
	return string(runes)
}

// LoadSchemaInfo loads schema items and descriptions. The returned
// cumulative state holds every domain-slot key with empty values.
func LoadSchemaInfo(opts *SGDOptions) (*cumulativeState, *SchemaInfo, error) {
	schema, err := sgd.LoadSchema(opts.SchemaFile)
	if err != nil {
		return nil, nil, err
	}

	slots := &cumulativeState{values: map[string]string{}}
	info := &SchemaInfo{
		Slots:           map[string]string{},
		Intents:         map[string]string{},
		IsCategorical:   map[string]bool{},
		PossibleValues:  map[string][]string{},
		SlotsRandName:   map[string]string{},
		IntentsRandName: map[string]string{},
	}

	for _, service := range schema {
		domain := service.ServiceName
		for _, slot := range service.Slots {
			name := mergeDomainSlot(domain, slot.Name)
			if _, ok := slots.values[name]; !ok {
				slots.keys = append(slots.keys, name)
				info.SlotKeys = append(info.SlotKeys, name)
			}
			slots.values[name] = ""
			info.Slots[name] = slot.Description

			isCat := slot.IsCategorical
			possVals := slot.PossibleValues
			// A categorical slot whose values are all numeric behaves
			// like a noncategorical one.
			if isCat && allNumeric(possVals) {
				possVals = nil
				isCat = false
			}
			info.IsCategorical[name] = isCat
			info.PossibleValues[name] = possVals
		}
		for _, intent := range service.Intents {
			name := mergeDomainSlot(domain, intent.Name)
			if _, ok := info.Intents[name]; !ok {
				info.IntentKeys = append(info.IntentKeys, name)
			}
			info.Intents[name] = intent.Description
		}

		if opts.DataFormat == FormatRandName {
			r := opts.rng()
			for _, slot := range service.Slots {
				info.SlotsRandName[mergeDomainSlot(domain, slot.Name)] = shuffledName(r, slot.Name)
			}
			for _, intent := range service.Intents {
				info.IntentsRandName[mergeDomainSlot(domain, intent.Name)] = shuffledName(r, intent.Name)
			}
		}
	}
	return slots, info, nil
}

func allNumeric(values []string) bool {
	for _, v := range values {
		if v == "" {
			return false
		}
		for _, r := range v {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func (info *SchemaInfo) slotDescription(opts *SGDOptions, slot string) (string, error) {
	switch opts.DataFormat {
	case FormatFullDesc:
		return info.Slots[slot], nil
	case FormatItemName:
		return slot, nil
	case FormatRandName:
		return info.SlotsRandName[slot], nil
	}
	return "", fmt.Errorf("invalid data format %q", opts.DataFormat)
}

func (info *SchemaInfo) intentDescription(opts *SGDOptions, intent string) (string, error) {
	switch opts.DataFormat {
	case FormatFullDesc:
		return info.Intents[intent], nil
	case FormatItemName:
		return intent, nil
	case FormatRandName:
		return info.IntentsRandName[intent], nil
	}
	return "", fmt.Errorf("invalid data format %q", opts.DataFormat)
}

// processUserTurn folds one user frame's state into ti and cumu. It
// returns the description-id table used to resolve system actions.
func processUserTurn(opts *SGDOptions, state *sgd.State, ti *turnInfo, cumu *cumulativeState,
	domain string, info *SchemaInfo, fs *frameState) (map[string]int, error) {

	// New values for already-tracked slots overwrite older ones; slot
	// order is preserved throughout the dialogue.
	for slot, values := range state.SlotValues {
		name := mergeDomainSlot(domain, slot)
		if _, ok := cumu.values[name]; !ok {
			return nil, fmt.Errorf("unknown slot: %s", name)
		}
		cumu.values[name] = strings.Join(values, " | ")
	}

	descToSlotID := map[string]int{}
	slots := append([]string(nil), info.SlotKeys...)
	if opts.RandomizeItems {
		r := opts.rng()
		r.Shuffle(len(slots), func(i, j int) { slots[i], slots[j] = slots[j], slots[i] })
	}

	slotID := len(fs.slotDesc)
	for _, slot := range slots {
		desc, err := info.slotDescription(opts, slot)
		if err != nil {
			return nil, err
		}

		var possibleValues []string
		if opts.MultipleChoice != MCNone && info.IsCategorical[slot] {
			possibleValues = append([]string(nil), info.PossibleValues[slot]...)
			if opts.RandomizeItems {
				r := opts.rng()
				r.Shuffle(len(possibleValues), func(i, j int) {
					possibleValues[i], possibleValues[j] = possibleValues[j], possibleValues[i]
				})
			}
			if len(possibleValues) >= len(letters) {
				return nil, fmt.Errorf("slot %s has %d possible values, more than the option alphabet", slot, len(possibleValues))
			}
			var pieces []string
			for i, value := range possibleValues {
				switch opts.MultipleChoice {
				case MCIndexedLetter:
					pieces = append(pieces, fmt.Sprintf("%d%c) %s", slotID, letters[i], value))
				case MCLetter:
					pieces = append(pieces, fmt.Sprintf("%c) %s", letters[i], value))
				}
			}
			desc += " " + strings.Join(pieces, " ")
		}

		// Only slots from the utterance's domain join the prefix.
		if strings.Contains(strings.SplitN(slot, "-", 2)[0], domain) {
			t := fmt.Sprintf(" %d%s", slotID, opts.Delimiter)
			descToSlotID[slot] = slotID
			if opts.Lowercase {
				fs.slotDesc = append(fs.slotDesc, t+strings.ToLower(desc)+" ")
			} else {
				fs.slotDesc = append(fs.slotDesc, t+desc+" ")
			}

			stateStr := ""
			if value := cumu.values[slot]; value != "" {
				if opts.MultipleChoice != MCNone && info.IsCategorical[slot] && value != "dontcare" {
					idx := indexOf(possibleValues, value)
					if idx < 0 {
						return nil, fmt.Errorf("categorical value %q of slot %s not among possible values %v", value, slot, possibleValues)
					}
					stateStr = t + strconv.Itoa(slotID) + string(letters[idx])
				} else {
					stateStr = t + value
				}
			}
			if opts.Lowercase {
				stateStr = strings.ToLower(stateStr)
			}
			ti.outState += stateStr
			ti.turnDomain = domain
			slotID++
		}
	}

	// Intents follow the same id scheme with an "i" prefix.
	intents := append([]string(nil), info.IntentKeys...)
	if opts.RandomizeItems {
		r := opts.rng()
		r.Shuffle(len(intents), func(i, j int) { intents[i], intents[j] = intents[j], intents[i] })
	}
	intentID := len(fs.intentDesc)
	for _, intent := range intents {
		desc, err := info.intentDescription(opts, intent)
		if err != nil {
			return nil, err
		}
		if !strings.Contains(intent, domain) {
			continue
		}
		activeIntent := domain + "-" + state.ActiveIntent
		t := fmt.Sprintf(" i%d%s", intentID, opts.Delimiter)
		intentStr := ""
		if activeIntent == intent {
			intentStr = " " + t[:len(t)-1]
		}
		if opts.Lowercase {
			fs.intentDesc = append(fs.intentDesc, t+strings.ToLower(desc)+" ")
		} else {
			fs.intentDesc = append(fs.intentDesc, t+desc+" ")
		}
		if intentStr != "" {
			fs.intentIDs = append(fs.intentIDs, intentStr)
		}
		intentID++
	}

	// Requested slot order comes from the user utterance, not the
	// schema.
	for _, reqSlot := range state.RequestedSlots {
		slotName := domain + "-" + reqSlot
		id, ok := descToSlotID[slotName]
		if !ok {
			return nil, fmt.Errorf("requested slot %s is not in the slot list", slotName)
		}
		fs.reqSlots = append(fs.reqSlots, strconv.Itoa(id))
	}

	return descToSlotID, nil
}

// processAgentTurn folds one system frame's actions into ti. API call
// values are intentionally omitted: they are delexicalized downstream.
func processAgentTurn(opts *SGDOptions, actions []sgd.Action, ti *turnInfo, domain string, descToSlotID map[string]int) {
	ti.outAct += " [actions] "
	var order []string
	acts := map[string]string{}
	for _, action := range actions {
		if _, ok := acts[action.Act]; !ok {
			acts[action.Act] = ""
			order = append(order, action.Act)
		}
		if action.Slot != "" {
			if slotID, ok := descToSlotID[mergeDomainSlot(domain, action.Slot)]; ok {
				acts[action.Act] += strconv.Itoa(slotID) + ";"
			}
		} else {
			acts[action.Act] += "none;"
		}
	}

	var pieces []string
	for _, act := range order {
		pieces = append(pieces, fmt.Sprintf("%s(%s)", act, acts[act]))
	}
	ti.outAct += strings.Join(pieces, " ")
	if opts.Lowercase {
		ti.outAct = strings.ToLower(ti.outAct)
	}
}

// processTurn collects information from a single turn. It returns the
// description prefix produced by the turn's last frame plus one turnInfo
// per frame.
func processTurn(opts *SGDOptions, turn sgd.Turn, ti *turnInfo, cumu *cumulativeState,
	info *SchemaInfo, prefix string, turnID int) (string, []turnInfo, error) {

	speaker := strings.ToLower(string(turn.Speaker))
	userTurn := speaker == "user"
	ti.userTurn = userTurn
	ti.currUtt = fmt.Sprintf("[%s] %s ", speaker, turn.Utterance)
	ti.outCtx += ti.currUtt
	ti.turnID = strconv.Itoa(turnID)
	if opts.Lowercase {
		ti.currUtt = strings.ToLower(ti.currUtt)
		ti.outCtx = strings.ToLower(ti.outCtx)
	}
	// Act and intent strings are not accumulative.
	ti.outAct = ""
	if userTurn {
		ti.outState = "[states]"
		ti.outIntent = "[intents]"
	}

	userTurnPrefix := ""
	descToSlotID := map[string]int{}
	var perFrame []turnInfo
	for frameID, frame := range turn.Frames {
		domain := frame.Service
		ti.frameID = strconv.Itoa(frameID)
		fs := &frameState{}

		if userTurn {
			// Multi-service turns are possible; each frame carries one
			// service.
			ti.outState = "[states]"
			ti.outIntent = "[intents]"
			if frame.State == nil {
				return "", nil, fmt.Errorf("user frame %d of turn %d has no state", frameID, turnID)
			}
			var err error
			descToSlotID, err = processUserTurn(opts, frame.State, ti, cumu, domain, info, fs)
			if err != nil {
				return "", nil, err
			}
		} else {
			processAgentTurn(opts, frame.Actions, ti, domain, descToSlotID)
		}

		userTurnPrefix = strings.Join(fs.slotDesc, "") + strings.Join(fs.intentDesc, "")
		if userTurn {
			ti.outCtxWithDesc = userTurnPrefix + ti.outCtx
		} else {
			// Prefix from the previous user turn.
			ti.outCtxWithDesc = prefix + ti.outCtx
		}
		ti.outIntent += strings.Join(fs.intentIDs, "")
		ti.outIntent += " [req_slots] "
		ti.outIntent += strings.Join(fs.reqSlots, " ")
		perFrame = append(perFrame, *ti)
	}

	return userTurnPrefix, perFrame, nil
}

func indexOf(values []string, value string) int {
	for i, v := range values {
		if v == value {
			return i
		}
	}
	return -1
}

// target renders the training target for one turn according to the
// generation level. An empty target drops the example.
func (opts *SGDOptions) target(ti *turnInfo) string {
	switch opts.Level {
	case LevelDST:
		if ti.userTurn {
			return ti.outState
		}
	case LevelDSTIntent:
		if ti.userTurn {
			return ti.outState + " " + ti.outIntent
		}
	case LevelDSTIntentAct:
		if !ti.userTurn {
			// System turns carry state, actions and the delexicalized
			// response.
			ti.currUtt = strings.ReplaceAll(ti.currUtt, "[system]", "[response]")
			return strings.Join([]string{ti.outState, ti.outIntent, ti.outAct, ti.currUtt}, " ")
		}
	}
	return ""
}

func writeExamples(opts *SGDOptions, turns []turnInfo) (string, error) {
	var sb strings.Builder
	if opts.AddHeader {
		sb.WriteString(strings.Join(texttotext.Header, "\t"))
		sb.WriteByte('\n')
	}

	for i := range turns {
		ti := &turns[i]
		src := ti.outCtxWithDesc
		tgt := opts.target(ti)
		if tgt == "" {
			continue
		}
		// Some utterances carry stray newlines; collapse all runs of
		// whitespace.
		example := fmt.Sprintf("%s \t%s\t%s\t%s\t%s",
			strings.Join(strings.Fields(src), " "),
			strings.Join(strings.Fields(tgt), " "),
			ti.dialogueID, ti.turnID, ti.frameID)
		if opts.Lowercase {
			example = strings.ToLower(example)
		}
		sb.WriteString(strings.TrimSpace(example))
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// filterExamples samples DataPercent of the examples, optionally keeping
// the domain distribution close to uniform.
func filterExamples(opts *SGDOptions, turns []turnInfo) []turnInfo {
	if opts.DataPercent == 0.0 {
		return turns
	}

	outSampleNum := int(float64(len(turns)) * opts.DataPercent)
	if !opts.UniformDomainDistribution {
		if opts.RandomizeItems {
			r := opts.rng()
			r.Shuffle(len(turns), func(i, j int) { turns[i], turns[j] = turns[j], turns[i] })
		}
		return turns[:outSampleNum]
	}

	var domainExamples [][]turnInfo
	domainID := map[string]int{}
	for _, turn := range turns {
		if id, ok := domainID[turn.turnDomain]; ok {
			domainExamples[id] = append(domainExamples[id], turn)
		} else {
			domainID[turn.turnDomain] = len(domainExamples)
			domainExamples = append(domainExamples, []turnInfo{turn})
		}
	}

	domainCount := len(domainExamples)
	consumed := make([]int, domainCount)
	var uniform []turnInfo
	for s := 0; s < outSampleNum; s++ {
		// First domain, counting from s, that still has unused
		// examples.
		id := s % domainCount
		for d := 0; d < domainCount; d++ {
			cand := (id + d) % domainCount
			if len(domainExamples[cand]) > consumed[cand] {
				id = cand
				break
			}
		}
		uniform = append(uniform, domainExamples[id][consumed[id]])
		consumed[id]++
	}

	if opts.RandomizeItems {
		r := opts.rng()
		r.Shuffle(len(uniform), func(i, j int) { uniform[i], uniform[j] = uniform[j], uniform[i] })
	}
	return uniform
}

// GenerateSGD renders the whole corpus into text examples and writes
// them to OutputFile.
func GenerateSGD(opts *SGDOptions, orderedSlots *cumulativeState, info *SchemaInfo) error {
	if err := os.MkdirAll(filepath.Dir(opts.OutputFile), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var dialogueFiles []string
	if stat, err := os.Stat(opts.SGDFile); err == nil && stat.IsDir() {
		files, err := sgd.DialogueFiles(opts.SGDFile)
		if err != nil {
			return err
		}
		dialogueFiles = files
	} else {
		dialogueFiles = []string{opts.SGDFile}
	}

	var allTurns []turnInfo
	for _, file := range dialogueFiles {
		dialogues, err := sgd.LoadDialogueFile(file)
		if err != nil {
			return err
		}
		for _, dlg := range dialogues {
			// Cumulative state throughout this dialogue.
			cumu := orderedSlots.clone()
			ti := turnInfo{dialogueID: dlg.DialogueID}
			prefix := ""
			for turnIdx, turn := range dlg.Turns {
				var perFrame []turnInfo
				var err error
				prefix, perFrame, err = processTurn(opts, turn, &ti, cumu, info, prefix, turnIdx)
				if err != nil {
					return fmt.Errorf("dialogue %s: %w", dlg.DialogueID, err)
				}
				allTurns = append(allTurns, perFrame...)
			}
		}
	}

	out, err := writeExamples(opts, filterExamples(opts, allTurns))
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.OutputFile, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write examples: %w", err)
	}
	return nil
}
