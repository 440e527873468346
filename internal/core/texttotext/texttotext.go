// Package texttotext holds the text-to-text example type shared by every
// generator, and writes examples out as TSV.
package texttotext

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dialoglab/gtod/internal/log"
)

// Example is a single text-to-text training example.
type Example struct {
	Src      string
	Tgt      string
	DialogID string
	Turn     int
	Frame    int
	Metadata map[string]string
}

// Header is the column header row written when requested.
var Header = []string{"prompt", "target", "dialogue_id", "turn_id", "frame_id"}

// collapse squeezes runs of whitespace (including stray newlines inside
// utterances) into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Line renders an example as one TSV row.
func (e Example) Line() string {
	return fmt.Sprintf("%s\t%s\t%s\t%d\t%d",
		collapse(e.Src), collapse(e.Tgt), e.DialogID, e.Turn, e.Frame)
}

// WriteTSV writes examples to path, creating parent directories as
// needed. When header is set the column header row is written first.
func WriteTSV(examples []Example, path string, header bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	var sb strings.Builder
	if header {
		sb.WriteString(strings.Join(Header, "\t"))
		sb.WriteByte('\n')
	}
	for _, example := range examples {
		sb.WriteString(example.Line())
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write examples: %w", err)
	}
	log.Info().Str("file", filepath.Base(path)).Int("examples", len(examples)).Msg("wrote examples")
	return nil
}
