// Package sgd models the Schema-Guided Dialogue (DSTC8) corpus and loads
// its JSON files.
package sgd

import (
	"encoding/json"
	"fmt"
	"os"
)

// Slot is one slot definition from a service schema.
type Slot struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	IsCategorical  bool     `json:"is_categorical"`
	PossibleValues []string `json:"possible_values"`
}

// Intent is one intent definition from a service schema. Optional slots
// map to their default values.
type Intent struct {
	Name            string            `json:"name"`
	Description     string            `json:"description"`
	IsTransactional bool              `json:"is_transactional"`
	RequiredSlots   []string          `json:"required_slots"`
	OptionalSlots   map[string]string `json:"optional_slots"`
	ResultSlots     []string          `json:"result_slots"`
}

// Service is one service schema from schema.json.
type Service struct {
	ServiceName string   `json:"service_name"`
	Description string   `json:"description"`
	Slots       []Slot   `json:"slots"`
	Intents     []Intent `json:"intents"`
}

// Name returns the service name.
func (s Service) Name() string { return s.ServiceName }

// Schema is the list of services declared for one dataset split.
type Schema []Service

// LoadSchema decodes a schema.json file.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	return schema, nil
}

// Registry maps each service name to its schema.
func (s Schema) Registry() map[string]Service {
	registry := make(map[string]Service, len(s))
	for _, service := range s {
		registry[service.Name()] = service
	}
	return registry
}
