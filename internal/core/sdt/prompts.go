// Package sdt generates "show don't tell" training data: each example is
// primed with a fully annotated demonstration dialogue instead of slot
// descriptions.
package sdt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dialoglab/gtod/internal/core/sgd"
)

// Prompt is one annotated demonstration for a service or domain.
type Prompt struct {
	// Dialogue holds the demonstration turns, already prefixed with
	// [user] / [system] tokens.
	Dialogue []string `json:"dialogue"`
	// SlotOrder lists the annotated slots in demonstration order; Slots
	// maps each one to its demo value.
	SlotOrder []string          `json:"slot_order"`
	Slots     map[string]string `json:"slots"`
	// CatValues is the categorical value inventory per slot, used for
	// multiple choice prompting.
	CatValues map[string][]string `json:"categorical_values,omitempty"`
	// Intents is the intent inventory; ActiveIntent is the demo answer.
	Intents      []string `json:"intents,omitempty"`
	ActiveIntent string   `json:"active_intent,omitempty"`
}

// PromptTable maps an SGD service or MultiWOZ domain to its prompts.
type PromptTable map[string][]Prompt

//go:embed promptdata/sgd.json
var sgdPromptsJSON []byte

//go:embed promptdata/multiwoz.json
var multiwozPromptsJSON []byte

func mustDecodePrompts(data []byte) PromptTable {
	var table PromptTable
	if err := json.Unmarshal(data, &table); err != nil {
		panic(fmt.Sprintf("decode embedded prompts: %v", err))
	}
	return table
}

// SGDPrompts returns the built-in SGD demonstration table.
func SGDPrompts() PromptTable { return mustDecodePrompts(sgdPromptsJSON) }

// MultiWOZPrompts returns the built-in MultiWOZ demonstration table.
func MultiWOZPrompts() PromptTable { return mustDecodePrompts(multiwozPromptsJSON) }

// LoadPrompts reads a prompt table from a JSON file.
func LoadPrompts(path string) (PromptTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var table PromptTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("decode prompts %s: %w", path, err)
	}
	return table, nil
}

// SGDXPrompts rewrites a prompt table for an SGD-X schema variant. SGD-X
// renames slots but keeps their order, so names map positionally between
// the original and variant schema files.
func SGDXPrompts(table PromptTable, sgdDir, sgdxDir string, subdirs []string) (PromptTable, error) {
	nameMap := map[string]map[string]string{}
	for _, subdir := range subdirs {
		orig, err := sgd.LoadSchema(filepath.Join(sgdDir, subdir, "schema.json"))
		if err != nil {
			return nil, err
		}
		variant, err := sgd.LoadSchema(filepath.Join(sgdxDir, subdir, "schema.json"))
		if err != nil {
			return nil, err
		}
		variantByName := map[string]sgd.Service{}
		for _, service := range variant {
			variantByName[service.ServiceName] = service
		}
		for _, service := range orig {
			vs, ok := variantByName[service.ServiceName]
			if !ok {
				return nil, fmt.Errorf("service %s missing from SGD-X schema", service.ServiceName)
			}
			if len(vs.Slots) != len(service.Slots) {
				return nil, fmt.Errorf("service %s: slot counts differ between schema variants", service.ServiceName)
			}
			m := nameMap[service.ServiceName]
			if m == nil {
				m = map[string]string{}
				nameMap[service.ServiceName] = m
			}
			for i, slot := range service.Slots {
				m[slot.Name] = vs.Slots[i].Name
			}
		}
	}

	out := make(PromptTable, len(table))
	for service, prompts := range table {
		m := nameMap[service]
		if m == nil {
			out[service] = prompts
			continue
		}
		rewritten := make([]Prompt, 0, len(prompts))
		for _, prompt := range prompts {
			p := Prompt{
				Dialogue:     prompt.Dialogue,
				Slots:        map[string]string{},
				Intents:      prompt.Intents,
				ActiveIntent: prompt.ActiveIntent,
			}
			for _, name := range prompt.SlotOrder {
				p.SlotOrder = append(p.SlotOrder, rename(m, name))
			}
			for name, value := range prompt.Slots {
				p.Slots[rename(m, name)] = value
			}
			if prompt.CatValues != nil {
				p.CatValues = map[string][]string{}
				for name, values := range prompt.CatValues {
					p.CatValues[rename(m, name)] = values
				}
			}
			rewritten = append(rewritten, p)
		}
		out[service] = rewritten
	}
	return out, nil
}

func rename(m map[string]string, name string) string {
	if renamed, ok := m[name]; ok {
		return renamed
	}
	return name
}
