// Package d3st wires the schemaless (description-driven) data
// generators into the CLI.
package d3st

import (
	"fmt"
	"math/rand"

	"github.com/urfave/cli/v2"

	"github.com/dialoglab/gtod/internal/core/config"
	d3stdata "github.com/dialoglab/gtod/internal/core/d3st"
	"github.com/dialoglab/gtod/internal/core/multiwoz"
)

// NewD3STCommand creates the d3st command with its per-corpus
// subcommands.
func NewD3STCommand() *cli.Command {
	return &cli.Command{
		Name:  "d3st",
		Usage: "Generate schemaless text-to-text training data",
		Subcommands: []*cli.Command{
			newSGDCommand(),
			newMultiWOZCommand(),
		},
	}
}

func newSGDCommand() *cli.Command {
	return &cli.Command{
		Name:  "sgd",
		Usage: "Generate schemaless data from the SGD corpus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "sgd-file",
				Usage:    "Dialogue JSON file or split directory with dialogues*.json shards",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "schema-file",
				Usage: "Schema JSON file; inferred when --sgd-file is a split directory",
			},
			&cli.StringFlag{
				Name:     "output-file",
				Usage:    "Output TSV file",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "Delimiter between id and description",
				Value: "=",
			},
			&cli.StringFlag{
				Name:  "level",
				Usage: "Generation level: dst, dst_intent or dst_intent_act",
				Value: "dst",
			},
			&cli.StringFlag{
				Name:  "data-format",
				Usage: "Format of the schema items: full_desc, item_name or rand_name",
				Value: "full_desc",
			},
			&cli.BoolFlag{
				Name:  "lowercase",
				Usage: "Lowercase generated examples",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "randomize-items",
				Usage: "Randomize schema item order per dialogue",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "multiple-choice",
				Usage: "Categorical slot rendering: none, a or 1a",
				Value: "none",
			},
			&cli.Float64Flag{
				Name:  "data-percent",
				Usage: "Proportion of examples to keep, 0 keeps all",
			},
			&cli.BoolFlag{
				Name:  "uniform-domain-distribution",
				Usage: "Sample --data-percent uniformly over domains",
			},
			&cli.BoolFlag{
				Name:  "header",
				Usage: "Write a TSV header line",
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

	level, err := d3stdata.ParseGenerationLevel(c.String("level"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	dataFormat, err := d3stdata.ParseDataFormat(c.String("data-format"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	multipleChoice, err := d3stdata.ParseMultipleChoiceFormat(c.String("multiple-choice"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	schemaFile := c.String("schema-file")
	if schemaFile == "" {
		if schemaFile, err = d3stdata.ValidateSplitDir(c.String("sgd-file")); err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
		}
	}

	opts := &d3stdata.SGDOptions{
		SGDFile:                   c.String("sgd-file"),
		SchemaFile:                schemaFile,
		OutputFile:                c.String("output-file"),
		Delimiter:                 delimiter(c, cfg),
		Level:                     level,
		DataFormat:                dataFormat,
		Lowercase:                 lowercase(c, cfg),
		RandomizeItems:            c.Bool("randomize-items"),
		MultipleChoice:            multipleChoice,
		DataPercent:               c.Float64("data-percent"),
		UniformDomainDistribution: c.Bool("uniform-domain-distribution"),
		AddHeader:                 c.Bool("header"),
		Rand:                      rng(c, cfg),
	}

	orderedSlots, info, err := d3stdata.LoadSchemaInfo(opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	if err := d3stdata.GenerateSGD(opts, orderedSlots, info); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func newMultiWOZCommand() *cli.Command {
	return &cli.Command{
		Name:  "multiwoz",
		Usage: "Generate schemaless data from the MultiWOZ corpus",
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
				Name:     "schema-file",
				Usage:    "MultiWOZ schema file in the 2.2 format",
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
				Name:  "description-type",
				Usage: "Slot rendering: full_desc, full_desc_with_domain, item_name or shuffled_item_name",
				Value: "full_desc",
			},
			&cli.StringFlag{
				Name:  "delimiter",
				Usage: "Delimiter between id and description",
				Value: ":",
			},
			&cli.StringFlag{
				Name:  "multiple-choice",
				Usage: "Categorical slot rendering: none, a or 1a",
				Value: "none",
			},
			&cli.BoolFlag{
				Name:  "use-active-domains-only",
				Usage: "Restrict prompts to domains active in the dialogue",
			},
			&cli.StringSliceFlag{
				Name:  "blocked-domains",
				Usage: "Drop turns mentioning these domains",
			},
			&cli.BoolFlag{
				Name:  "use-target-separators",
				Usage: "Join target slot-value pairs with ';'",
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
	descriptionType, err := d3stdata.ParseDescriptionType(c.String("description-type"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	multipleChoice, err := d3stdata.ParseMultipleChoiceFormat(c.String("multiple-choice"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	blocked := map[string]bool{}
	for _, domain := range c.StringSlice("blocked-domains") {
		blocked[domain] = true
	}

	opts := &d3stdata.MultiWOZOptions{
		MultiWOZDir:          c.String("multiwoz-dir"),
		OutputDir:            c.String("output-dir"),
		SchemaFile:           c.String("schema-file"),
		Version:              version,
		IsTrade:              c.Bool("trade"),
		DescriptionType:      descriptionType,
		Delimiter:            delimiter(c, cfg),
		MultipleChoice:       multipleChoice,
		UseActiveDomainsOnly: c.Bool("use-active-domains-only"),
		BlockedDomains:       blocked,
		UseTargetSeparators:  c.Bool("use-target-separators"),
		Rand:                 rng(c, cfg),
	}
	if err := d3stdata.GenerateMultiWOZ(opts); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
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
