// Package sdt wires the demonstration-prompted data generators and the
// prediction converter into the CLI.
package sdt

import (
	"fmt"
	"math/rand"

	"github.com/urfave/cli/v2"

	"github.com/dialoglab/gtod/internal/core/config"
	"github.com/dialoglab/gtod/internal/core/multiwoz"
	sdtdata "github.com/dialoglab/gtod/internal/core/sdt"
)

// NewSDTCommand creates the sdt command with its subcommands.
func NewSDTCommand() *cli.Command {
	return &cli.Command{
		Name:  "sdt",
		Usage: "Generate demonstration-prompted text-to-text training data",
		Subcommands: []*cli.Command{
			newSGDCommand(),
			newMultiWOZCommand(),
			newConvertCommand(),
		},
	}
}

func newSGDCommand() *cli.Command {
	return &cli.Command{
		Name:  "sgd",
		Usage: "Generate demonstration-prompted data from the SGD corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "sgd-dir",
				Usage:    "SGD data directory with split subdirectories",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "sgdx-dir",
				Usage: "SGD-X variant directory; prompt slot names are rewritten to its schema",
			},
			&cli.StringSliceFlag{
				Name:  "subdirs",
				Usage: "Split subdirectories to read",
				Value: cli.NewStringSlice("train", "dev", "test"),
			},
			&cli.StringFlag{
				Name:     "output-path",
				Usage:    "Output TSV file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "prompt-file",
				Usage: "JSON prompt table overriding the built-in demonstrations",
			},
			&cli.IntSliceFlag{
				Name:  "prompt-indices",
				Usage: "Demonstration indices to use per service; all when empty",
			},
			&cli.StringFlag{
				Name:  "context-format",
				Usage: "Context format: dialogue",
				Value: "dialogue",
			},
			&cli.StringFlag{
				Name:  "target-format",
				Usage: "Target format: all or active",
				Value: "all",
			},
			&cli.BoolFlag{
				Name:  "add-intents",
				Usage: "Add intents to prompts and targets",
			},
			&cli.BoolFlag{
				Name:  "lowercase",
				Usage: "Lowercase generated examples",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "mcq-cat-vals",
				Usage: "Render categorical slot values as multiple choice options",
			},
			&cli.BoolFlag{
				Name:  "mcq-intents",
				Usage: "Render intents as multiple choice options",
			},
			&cli.BoolFlag{
				Name:  "randomize-slots",
				Usage: "Randomize slot order in prompts",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "randomize-cat-vals",
				Usage: "Randomize categorical value order in prompts",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "randomize-intents",
				Usage: "Randomize intent order in prompts",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "use-slot-ids",
				Usage: "Replace slot names with numeric ids",
			},
			&cli.Float64Flag{
				Name:  "data-percent",
				Usage: "Proportion of examples to keep, 0 keeps all",
			},
			&cli.IntFlag{
				Name:  "k-shot",
				Usage: "Examples to keep per service, 0 keeps all",
			},
			&cli.BoolFlag{
				Name:  "use-item-descs",
				Usage: "Add schema descriptions to prompt slots and intents",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "Random seed",
			},
		},
		Action: sgdAction,
	}
}

func sgdAction(c *cli.Context) error {
	cfg, err := config.Load(".")
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: Failed to load %s: %v", config.FileName, err), 1)
	}

	contextFormat, err := sdtdata.ParseContextFormat(c.String("context-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	targetFormat, err := sdtdata.ParseTargetFormat(c.String("target-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	prompts, err := promptTable(c, cfg, sdtdata.SGDPrompts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	opts := &sdtdata.SGDOptions{
		SGDDir:        c.String("sgd-dir"),
		SGDXDir:       c.String("sgdx-dir"),
		Subdirs:       c.StringSlice("subdirs"),
		OutputPath:    c.String("output-path"),
		Prompts:       prompts,
		PromptIndices: c.IntSlice("prompt-indices"),
		ContextFormat: contextFormat,
		TargetFormat:  targetFormat,
		AddIntents:    c.Bool("add-intents"),
		Lowercase:     lowercase(c, cfg),
		MCQCatVals:    c.Bool("mcq-cat-vals"),
		MCQIntents:    c.Bool("mcq-intents"),
		RandomSlots:   c.Bool("randomize-slots"),
		RandomCats:    c.Bool("randomize-cat-vals"),
		RandomInts:    c.Bool("randomize-intents"),
		UseSlotIDs:    c.Bool("use-slot-ids"),
		DataPercent:   c.Float64("data-percent"),
		KShot:         c.Int("k-shot"),
		UseItemDescs:  c.Bool("use-item-descs"),
		Rand:          rng(c, cfg),
	}
	if err := sdtdata.GenerateSGD(opts); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func newMultiWOZCommand() *cli.Command {
	return &cli.Command{
		Name:  "multiwoz",
		Usage: "Generate demonstration-prompted data from the MultiWOZ corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "multiwoz-dir",
				Usage:    "MultiWOZ data directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output-dir",
				Usage:    "Directory for the train/dev/test TSV files",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "multiwoz-version",
				Usage: "Corpus version: 2.1, 2.2, 2.3 or 2.4",
				Value: "2.4",
			},
			&cli.BoolFlag{
				Name:  "trade",
				Usage: "Read TRADE preprocessed dialogue files",
			},
			&cli.StringFlag{
				Name:  "prompt-file",
				Usage: "JSON prompt table overriding the built-in demonstrations",
			},
			&cli.IntSliceFlag{
				Name:  "prompt-indices",
				Usage: "Demonstration indices to use per domain; all when empty",
			},
			&cli.StringFlag{
				Name:  "context-format",
				Usage: "Context format: dialogue",
				Value: "dialogue",
			},
			&cli.StringFlag{
				Name:  "target-format",
				Usage: "Target format: all or active",
				Value: "all",
			},
			&cli.BoolFlag{
				Name:  "lowercase",
				Usage: "Lowercase generated examples",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "mcq-cat-vals",
				Usage: "Render categorical slot values as multiple choice options",
			},
			&cli.BoolFlag{
				Name:  "randomize-slots",
				Usage: "Randomize slot order in prompts",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "randomize-cat-vals",
				Usage: "Randomize categorical value order in prompts",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "shuffle",
				Usage: "Shuffle examples before writing",
			},
			&cli.BoolFlag{
				Name:  "use-active-domains-only",
				Usage: "Restrict prompts to domains active in the dialogue",
			},
			&cli.StringSliceFlag{
				Name:  "blocked-domains",
				Usage: "Drop turns mentioning these domains",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "Random seed",
			},
		},
		Action: multiwozAction,
	}
}

func multiwozAction(c *cli.Context) error {
	cfg, err := config.Load(".")
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: Failed to load %s: %v", config.FileName, err), 1)
	}

	version, err := multiwoz.ParseVersion(c.String("multiwoz-version"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	contextFormat, err := sdtdata.ParseContextFormat(c.String("context-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	targetFormat, err := sdtdata.ParseTargetFormat(c.String("target-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	prompts, err := promptTable(c, cfg, sdtdata.MultiWOZPrompts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	blocked := map[string]bool{}
	for _, domain := range c.StringSlice("blocked-domains") {
		blocked[domain] = true
	}

	opts := &sdtdata.MultiWOZOptions{
		DataDir:              c.String("multiwoz-dir"),
		OutputDir:            c.String("output-dir"),
		Version:              version,
		IsTrade:              c.Bool("trade"),
		Prompts:              prompts,
		PromptIndices:        c.IntSlice("prompt-indices"),
		ContextFormat:        contextFormat,
		TargetFormat:         targetFormat,
		Lowercase:            lowercase(c, cfg),
		MCQCatVals:           c.Bool("mcq-cat-vals"),
		RandomSlots:          c.Bool("randomize-slots"),
		RandomCats:           c.Bool("randomize-cat-vals"),
		Shuffle:              c.Bool("shuffle"),
		UseActiveDomainsOnly: c.Bool("use-active-domains-only"),
		BlockedDomains:       blocked,
		Rand:                 rng(c, cfg),
	}
	if err := sdtdata.GenerateMultiWOZ(opts); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func newConvertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert T5X predictions into the DSTC8 evaluation format",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "predictions-jsonl",
				Usage:    "T5X predictions file, one JSON object per line",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data-dir",
				Usage:    "DSTC8 data directory with split subdirectories",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "output-dir",
				Usage:    "Directory for dialogues_all.json",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "split",
				Usage: "Dataset split the predictions were decoded from",
				Value: "test",
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "Delimiter between slot names and values",
				Value: "=",
			},
			&cli.BoolFlag{
				Name:  "evaluate-intents",
				Usage: "Also read intent predictions back into the states",
			},
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	cfg, err := config.Load(".")
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: Failed to load %s: %v", config.FileName, err), 1)
	}

	opts := &sdtdata.ConvertOptions{
		PredictionsFile: c.String("predictions-jsonl"),
		DataDir:         c.String("data-dir"),
		OutputDir:       c.String("output-dir"),
		Split:           c.String("split"),
		Delimiter:       delimiter(c, cfg),
		EvaluateIntents: c.Bool("evaluate-intents"),
	}
	if err := sdtdata.ConvertPredictions(opts); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

// promptTable resolves the demonstration table: flag, then gtod.toml,
// then the built-in table.
func promptTable(c *cli.Context, cfg *config.Config, builtin func() sdtdata.PromptTable) (sdtdata.PromptTable, error) {
	path := c.String("prompt-file")
	if path == "" {
		path = cfg.PromptFile("")
	}
	if path == "" {
		return builtin(), nil
	}
	return sdtdata.LoadPrompts(path)
}

func delimiter(c *cli.Context, cfg *config.Config) string {
	if c.IsSet("delimiter") {
		return c.String("delimiter")
	}
	return cfg.Delimiter(c.String("delimiter"))
}

func lowercase(c *cli.Context, cfg *config.Config) bool {
	if c.IsSet("lowercase") {
		return c.Bool("lowercase")
	}
	return cfg.Lowercase(c.Bool("lowercase"))
}

func rng(c *cli.Context, cfg *config.Config) *rand.Rand {
	if c.IsSet("seed") {
		return rand.New(rand.NewSource(c.Int64("seed")))
	}
	if seed := cfg.RandomSeed(0); seed != 0 {
		return rand.New(rand.NewSource(seed))
	}
	return nil
}
