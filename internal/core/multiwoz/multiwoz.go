// Package multiwoz loads the MultiWOZ corpus (versions 2.1 through 2.4,
// plain or TRADE-preprocessed) and extracts belief states from it.
package multiwoz

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/dialoglab/gtod/internal/log"
)

// Version is a supported MultiWOZ dataset version.
type Version string

const (
	V21 Version = "2.1"
	V22 Version = "2.2"
	V23 Version = "2.3"
	V24 Version = "2.4"
)

// ParseVersion validates a version string.
func ParseVersion(s string) (Version, error) {
	switch Version(s) {
	case V21, V22, V23, V24:
		return Version(s), nil
	}
	return "", fmt.Errorf("unsupported MultiWOZ version %q (want 2.1, 2.2, 2.3 or 2.4)", s)
}

// AtLeast reports whether v is version other or newer.
func (v Version) AtLeast(other Version) bool {
	lhs := semver.MustParse(string(v))
	rhs := semver.MustParse(string(other))
	return !lhs.LessThan(rhs)
}

// listFileExt returns the extension of the val/test list files. 2.4 ships
// them as .json, earlier versions as .txt; both are plain id-per-line
// text.
func (v Version) listFileExt() string {
	if v.AtLeast(V24) {
		return "json"
	}
	return "txt"
}

// SplitData is the raw dialogue JSON of one split. Order carries the
// dialogue ids in corpus order (file order for TRADE data, sorted ids
// for the plain form, whose data.json is an unordered object).
type SplitData struct {
	Order []string
	ByID  map[string]map[string]any
}

// Len returns the number of dialogues in the split.
func (s SplitData) Len() int { return len(s.Order) }

// Data is the raw corpus: dialogue JSON per split plus slot descriptions.
// All JSON is lowercased at load time.
type Data struct {
	Train            SplitData
	Dev              SplitData
	Test             SplitData
	SlotDescriptions map[string][]string
}

func loadLoweredJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(strings.ToLower(string(data))), v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func loadTradeSplit(path string) (SplitData, error) {
	split := SplitData{ByID: map[string]map[string]any{}}
	// Empty placeholder files stand in for absent splits in some corpus
	// layouts.
	if info, err := os.Stat(path); err == nil && info.Size() == 0 {
		return split, nil
	}
	var dialogues []map[string]any
	if err := loadLoweredJSON(path, &dialogues); err != nil {
		return SplitData{}, err
	}
	for _, d := range dialogues {
		idx, _ := d["dialogue_idx"].(string)
		split.Order = append(split.Order, idx)
		split.ByID[idx] = d
	}
	return split, nil
}

func loadIDList(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read id list: %w", err)
	}
	defer func() { _ = f.Close() }()

	ids := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(strings.ToLower(scanner.Text()), " \t\r\n")
		if line != "" {
			ids[line] = true
		}
	}
	return ids, scanner.Err()
}

// Load reads the MultiWOZ corpus from dataDir. TRADE form reads the
// pre-split {train,dev,test}_dials.json files; the plain form reads
// data.json and partitions it by the val/test list files.
func Load(dataDir string, version Version, isTrade bool) (*Data, error) {
	data := &Data{}
	var err error

	if isTrade {
		if data.Train, err = loadTradeSplit(filepath.Join(dataDir, "train_dials.json")); err != nil {
			return nil, err
		}
		if data.Dev, err = loadTradeSplit(filepath.Join(dataDir, "dev_dials.json")); err != nil {
			return nil, err
		}
		if data.Test, err = loadTradeSplit(filepath.Join(dataDir, "test_dials.json")); err != nil {
			return nil, err
		}
	} else {
		var all map[string]map[string]any
		if err = loadLoweredJSON(filepath.Join(dataDir, "data.json"), &all); err != nil {
			return nil, err
		}
		ext := version.listFileExt()
		devIDs, err := loadIDList(filepath.Join(dataDir, "valListFile."+ext))
		if err != nil {
			return nil, err
		}
		testIDs, err := loadIDList(filepath.Join(dataDir, "testListFile."+ext))
		if err != nil {
			return nil, err
		}

		// Splits are partitioned in sorted id order, not the order the
		// ids appear in data.json.
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		data.Train = SplitData{ByID: map[string]map[string]any{}}
		data.Dev = SplitData{ByID: map[string]map[string]any{}}
		data.Test = SplitData{ByID: map[string]map[string]any{}}
		for _, id := range ids {
			switch {
			case devIDs[id]:
				data.Dev.Order = append(data.Dev.Order, id)
				data.Dev.ByID[id] = all[id]
			case testIDs[id]:
				data.Test.Order = append(data.Test.Order, id)
				data.Test.ByID[id] = all[id]
			default:
				data.Train.Order = append(data.Train.Order, id)
				data.Train.ByID[id] = all[id]
			}
		}
	}

	data.SlotDescriptions, err = LoadSlotDescriptions(filepath.Join(dataDir, "slot_descriptions.json"))
	if err != nil {
		return nil, err
	}
	log.Info().
		Int("train", data.Train.Len()).Int("dev", data.Dev.Len()).Int("test", data.Test.Len()).
		Str("version", string(version)).Bool("trade", isTrade).
		Msg("loaded MultiWOZ corpus")
	return data, nil
}

// LoadSlotDescriptions reads slot_descriptions.json. "book " prefixes are
// dropped from slot names and the phantom bus-arriveby/bus-people entries
// are skipped.
func LoadSlotDescriptions(path string) (map[string][]string, error) {
	var raw map[string][]string
	if err := loadLoweredJSON(path, &raw); err != nil {
		return nil, err
	}
	descriptions := make(map[string][]string, len(raw))
	for key, val := range raw {
		key = strings.ReplaceAll(key, "book ", "")
		if key == "bus-arriveby" || key == "bus-people" {
			continue
		}
		descriptions[key] = val
	}
	return descriptions, nil
}

// SlotInfo describes one schema slot.
type SlotInfo struct {
	IsCategorical  bool
	PossibleValues []string
}

// SchemaInfo indexes schema slots by domain and slot name.
type SchemaInfo struct {
	SlotsByDomain map[string]map[string]SlotInfo
}

// LoadSchema reads a MultiWOZ schema file in the 2.2/SGD format.
func LoadSchema(path string) (*SchemaInfo, error) {
	var services []map[string]any
	if err := loadLoweredJSON(path, &services); err != nil {
		return nil, err
	}

	info := &SchemaInfo{SlotsByDomain: make(map[string]map[string]SlotInfo)}
	for _, service := range services {
		domain, _ := service["service_name"].(string)
		info.SlotsByDomain[domain] = make(map[string]SlotInfo)
		slots, _ := service["slots"].([]any)
		for _, s := range slots {
			slot, _ := s.(map[string]any)
			isCategorical, _ := slot["is_categorical"].(bool)
			var possibleValues []string
			if isCategorical {
				for _, v := range anySlice(slot["possible_values"]) {
					if str, ok := v.(string); ok {
						possibleValues = append(possibleValues, str)
					}
				}
			}

			// Numeric categorical slots behave like free-form ones.
			if isCategorical && allDigits(possibleValues) {
				isCategorical = false
				possibleValues = nil
			}

			// Align with belief state keys: "hotel-book people" is
			// tracked as "hotel-people".
			name, _ := slot["name"].(string)
			name = strings.ReplaceAll(name, "book", "")
			info.SlotsByDomain[domain][name] = SlotInfo{
				IsCategorical:  isCategorical,
				PossibleValues: possibleValues,
			}
		}
	}
	return info, nil
}

func anySlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func allDigits(values []string) bool {
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

// Domain extracts the domain from a MultiWOZ slot name.
func Domain(slotName string) string {
	return strings.SplitN(slotName, "-", 2)[0]
}

// ExtractDomains lists the domains active in a belief state.
func ExtractDomains(beliefState *BeliefState) map[string]bool {
	domains := make(map[string]bool)
	for _, slotName := range beliefState.Order {
		domains[Domain(slotName)] = true
	}
	return domains
}
