// Package ser computes the slot error rate of generated system
// responses against their dialogue act meaning representations.
package ser

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dialoglab/gtod/internal/core/sgd"
	"github.com/dialoglab/gtod/internal/log"
)

// Options configures a slot error rate run.
type Options struct {
	// PredictionsFile holds one decoded response per line, aligned with
	// InputsFile.
	PredictionsFile string
	// InputsFile is the response generation TSV: input, target, and the
	// JSON meaning representation per line.
	InputsFile string
	// DataDir is the DSTC8 corpus root; each split subdirectory
	// contributes its schema.json.
	DataDir string
	// Splits lists the schema subdirectories. Defaults to train, dev and
	// test.
	Splits []string
}

// unseenDomains were held out of training in the response generation
// setup; their services are scored separately.
var unseenDomains = map[string]bool{
	"Alarm":     true,
	"Messaging": true,
	"Payment":   true,
	"Train":     true,
}

// meaningRep is the per-turn meaning representation stored in the third
// TSV column.
type meaningRep struct {
	Frames []sgd.Frame `json:"frames"`
}

// Example pairs one meaning representation with its decoded response.
type Example struct {
	MR         meaningRep
	Prediction string
	Tag        string
}

// Results maps "overall" and each tag to a slot error rate percentage.
type Results map[string]float64

// PermissibleSlots maps each service to its non-categorical slot names.
// Only values of these slots are expected to surface verbatim in a
// response.
func PermissibleSlots(dataDir string, splits []string) (map[string][]string, error) {
	permissible := map[string][]string{}
	for _, split := range splits {
		schema, err := sgd.LoadSchema(filepath.Join(dataDir, split, "schema.json"))
		if err != nil {
			return nil, err
		}
		for _, service := range schema {
			for _, slot := range service.Slots {
				if !slot.IsCategorical {
					permissible[service.ServiceName] = append(permissible[service.ServiceName], slot.Name)
				}
			}
		}
	}
	return permissible, nil
}

// exampleCorrect reports whether every permissible slot value in the
// meaning representation appears in the prediction.
func exampleCorrect(mr meaningRep, prediction string, permissible map[string][]string) bool {
	prediction = strings.ToLower(prediction)
	for _, frame := range mr.Frames {
		slots := permissible[frame.Service]
		for _, action := range frame.Actions {
			ok := false
			for _, name := range slots {
				if name == action.Slot {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
			for _, value := range action.Values {
				if !strings.Contains(prediction, strings.ToLower(value)) {
					return false
				}
			}
		}
	}
	return true
}

// Calculate scores a set of examples. Rates are grouped by tag and
// reported as percentages of erroneous examples.
func Calculate(examples []Example, permissible map[string][]string) Results {
	wrong := 0
	byTag := map[string]struct{ wrong, total int }{}
	for _, ex := range examples {
		counts := byTag[ex.Tag]
		counts.total++
		if !exampleCorrect(ex.MR, ex.Prediction, permissible) {
			wrong++
			counts.wrong++
		}
		byTag[ex.Tag] = counts
	}

	results := Results{}
	if len(examples) > 0 {
		results["overall"] = float64(wrong) / float64(len(examples)) * 100
	}
	for tag, counts := range byTag {
		results[tag] = float64(counts.wrong) / float64(counts.total) * 100
	}
	return results
}

// LoadExamples reads the inputs TSV and predictions file and aligns
// them line by line.
func LoadExamples(inputsPath, predictionsPath string) ([]Example, error) {
	predFile, err := os.Open(predictionsPath)
	if err != nil {
		return nil, fmt.Errorf("read predictions: %w", err)
	}
	defer func() { _ = predFile.Close() }()

	var predictions []string
	scanner := bufio.NewScanner(predFile)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		predictions = append(predictions, strings.TrimRight(scanner.Text(), "\n"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	inputsFile, err := os.Open(inputsPath)
	if err != nil {
		return nil, fmt.Errorf("read inputs: %w", err)
	}
	defer func() { _ = inputsFile.Close() }()

	reader := csv.NewReader(inputsFile)
	reader.Comma = '\t'
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode inputs %s: %w", inputsPath, err)
	}
	if len(rows) != len(predictions) {
		return nil, fmt.Errorf("inputs and predictions are misaligned: %d rows vs %d predictions", len(rows), len(predictions))
	}

	examples := make([]Example, 0, len(rows))
	for i, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("inputs row %d has %d columns, want 3", i, len(row))
		}
		var mr meaningRep
		if err := json.Unmarshal([]byte(row[2]), &mr); err != nil {
			return nil, fmt.Errorf("decode meaning representation on row %d: %w", i, err)
		}
		if len(mr.Frames) == 0 {
			return nil, fmt.Errorf("meaning representation on row %d has no frames", i)
		}
		domain := strings.SplitN(mr.Frames[0].Service, "_", 2)[0]
		tag := "seen"
		if unseenDomains[domain] {
			tag = "unseen"
		}
		examples = append(examples, Example{MR: mr, Prediction: predictions[i], Tag: tag})
	}
	return examples, nil
}

// Run loads everything and computes the slot error rates.
func Run(opts *Options) (Results, error) {
	splits := opts.Splits
	if len(splits) == 0 {
		splits = []string{"train", "dev", "test"}
	}
	permissible, err := PermissibleSlots(opts.DataDir, splits)
	if err != nil {
		return nil, err
	}
	examples, err := LoadExamples(opts.InputsFile, opts.PredictionsFile)
	if err != nil {
		return nil, err
	}
	log.Info().Int("examples", len(examples)).Int("services", len(permissible)).Msg("computing slot error rate")
	return Calculate(examples, permissible), nil
}

// Keys returns the result keys with "overall" first and the rest
// sorted.
func (r Results) Keys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		if key != "overall" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	if _, ok := r["overall"]; ok {
		keys = append([]string{"overall"}, keys...)
	}
	return keys
}
