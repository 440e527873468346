// Package d3st generates "schemaless" (description-driven) dialogue
// state tracking data from SGD and MultiWOZ corpora.
package d3st

import "fmt"

// GenerationLevel selects how much supervision the targets carry.
type GenerationLevel string

const (
	// LevelDST generates dialogue states only.
	LevelDST GenerationLevel = "dst"
	// LevelDSTIntent adds intents and requested slots.
	LevelDSTIntent GenerationLevel = "dst_intent"
	// LevelDSTIntentAct adds system actions and responses.
	LevelDSTIntentAct GenerationLevel = "dst_intent_act"
)

// ParseGenerationLevel validates a level string.
func ParseGenerationLevel(s string) (GenerationLevel, error) {
	switch GenerationLevel(s) {
	case LevelDST, LevelDSTIntent, LevelDSTIntentAct:
		return GenerationLevel(s), nil
	}
	return "", fmt.Errorf("invalid level %q (want dst, dst_intent or dst_intent_act)", s)
}

// DataFormat selects what the SGD generator uses as item descriptions.
type DataFormat string

const (
	// FormatFullDesc uses the natural language description.
	FormatFullDesc DataFormat = "full_desc"
	// FormatItemName uses the schema item name.
	FormatItemName DataFormat = "item_name"
	// FormatRandName uses a random permutation of the item name.
	FormatRandName DataFormat = "rand_name"
)

// ParseDataFormat validates a data format string.
func ParseDataFormat(s string) (DataFormat, error) {
	switch DataFormat(s) {
	case FormatFullDesc, FormatItemName, FormatRandName:
		return DataFormat(s), nil
	}
	return "", fmt.Errorf("invalid data format %q (want full_desc, item_name or rand_name)", s)
}

// DescriptionType selects what the MultiWOZ generators use as slot
// descriptions.
type DescriptionType string

const (
	DescFullDesc           DescriptionType = "full_desc"
	DescFullDescWithDomain DescriptionType = "full_desc_with_domain"
	DescItemName           DescriptionType = "item_name"
	DescShuffledItemName   DescriptionType = "shuffled_item_name"
)

// ParseDescriptionType validates a description type string.
func ParseDescriptionType(s string) (DescriptionType, error) {
	switch DescriptionType(s) {
	case DescFullDesc, DescFullDescWithDomain, DescItemName, DescShuffledItemName:
		return DescriptionType(s), nil
	}
	return "", fmt.Errorf("invalid description type %q (want full_desc, full_desc_with_domain, item_name or shuffled_item_name)", s)
}

// MultipleChoiceFormat selects how categorical slots are prompted.
type MultipleChoiceFormat string

const (
	// MCNone disables multiple choice prompting.
	MCNone MultipleChoiceFormat = "none"
	// MCLetter prompts as "1: ... a) b) c)".
	MCLetter MultipleChoiceFormat = "a"
	// MCIndexedLetter prompts as "1: ... 1a) 1b) 1c)".
	MCIndexedLetter MultipleChoiceFormat = "1a"
)

// ParseMultipleChoiceFormat validates a multiple choice format string.
func ParseMultipleChoiceFormat(s string) (MultipleChoiceFormat, error) {
	switch MultipleChoiceFormat(s) {
	case MCNone, MCLetter, MCIndexedLetter:
		return MultipleChoiceFormat(s), nil
	}
	return "", fmt.Errorf("invalid multiple choice format %q (want none, a or 1a)", s)
}

const letters = "abcdefghijklmnopqrstuvwxyz"
