package sgd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/dialoglab/gtod/internal/log"
)

// RawDialogue is a dialogue kept as decoded JSON. The prediction
// converter mutates dialogues in place and re-serializes them, so it
// cannot drop fields the typed model does not know about.
type RawDialogue = map[string]any

// RawSchema is a service schema kept as decoded JSON.
type RawSchema = map[string]any

// LoadRawDialoguesByFile decodes every dialogue shard under dir/subdir
// into raw JSON, keyed by shard filename.
func LoadRawDialoguesByFile(dir, subdir string) (map[string][]RawDialogue, error) {
	files, err := DialogueFiles(filepath.Join(dir, subdir))
	if err != nil {
		return nil, err
	}
	byFile := make(map[string][]RawDialogue, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read dialogues: %w", err)
		}
		var dialogues []RawDialogue
		if err := json.Unmarshal(data, &dialogues); err != nil {
			return nil, fmt.Errorf("decode dialogues %s: %w", file, err)
		}
		byFile[filepath.Base(file)] = dialogues
		log.Debug().Str("file", filepath.Base(file)).Msg("loaded dialogue file")
	}
	return byFile, nil
}

// LoadRawSchemas decodes dir/subdir/schema.json into raw JSON.
func LoadRawSchemas(dir, subdir string) ([]RawSchema, error) {
	path := filepath.Join(dir, subdir, "schema.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schemas []RawSchema
	if err := json.Unmarshal(data, &schemas); err != nil {
		return nil, fmt.Errorf("decode schema %s: %w", path, err)
	}
	log.Debug().Str("file", path).Msg("loaded schema file")
	return schemas, nil
}

// DedupeSchemas flattens per-subdir schemas into a map keyed by service
// name. Each schema is tagged with a "subdirs" list recording where it
// appears.
func DedupeSchemas(bySubdir map[string][]RawSchema) map[string]RawSchema {
	deduped := make(map[string]RawSchema)
	for subdir, schemas := range bySubdir {
		for _, schema := range schemas {
			name, _ := schema["service_name"].(string)
			entry, ok := deduped[name]
			if !ok {
				entry = make(RawSchema, len(schema)+1)
				for k, v := range schema {
					entry[k] = v
				}
				entry["subdirs"] = []string{}
				deduped[name] = entry
			}
			entry["subdirs"] = append(entry["subdirs"].([]string), subdir)
		}
	}
	return deduped
}

// SpaceCamelCase splits a CamelCase string into space separated words.
// Acronym runs stay together: "FindHDMICable" becomes "Find HDMI Cable".
func SpaceCamelCase(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	var words []string
	for i := 0; i < len(runes); {
		if !unicode.IsUpper(runes[i]) {
			i++
			continue
		}
		j := i + 1
		if j < len(runes) && unicode.IsLower(runes[j]) {
			for j < len(runes) && unicode.IsLower(runes[j]) {
				j++
			}
		} else {
			for j < len(runes) && unicode.IsUpper(runes[j]) {
				j++
			}
			// The last capital of a run starts the next word when
			// followed by lowercase.
			if j < len(runes) && unicode.IsLower(runes[j]) {
				j--
			}
		}
		words = append(words, string(runes[i:j]))
		i = j
	}
	return strings.Join(words, " ")
}

// SpaceSnakeCase replaces underscores with spaces.
func SpaceSnakeCase(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// JoinNonEmpty joins items with delimiter, returning "" for an empty
// list.
func JoinNonEmpty(items []string, delimiter string) string {
	if len(items) == 0 {
		return ""
	}
	return strings.Join(items, delimiter)
}
