// Package ser wires the slot error rate metric into the CLI.
package ser

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	serdata "github.com/dialoglab/gtod/internal/core/ser"
)

// NewSERCommand creates the ser command.
func NewSERCommand() *cli.Command {
	return &cli.Command{
		Name:  "ser",
		Usage: "Compute the slot error rate of generated responses",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "predictions-path",
				Usage:    "Decoded responses, one per line",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "inputs-path",
				Usage:    "Response generation TSV with meaning representations",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "data-dir",
				Usage:    "DSTC8 data directory with per-split schema.json files",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "splits",
				Usage: "Schema subdirectories to read",
				Value: cli.NewStringSlice("train", "dev", "test"),
			},
		},
		Action: serAction,
	}
}

func serAction(c *cli.Context) error {
	results, err := serdata.Run(&serdata.Options{
		PredictionsFile: c.String("predictions-path"),
		InputsFile:      c.String("inputs-path"),
		DataDir:         c.String("data-dir"),
		Splits:          c.StringSlice("splits"),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	bold := color.New(color.Bold)
	for _, key := range results.Keys() {
		_, _ = bold.Printf("%-10s", key)
		fmt.Printf(" %.2f%%\n", results[key])
	}
	return nil
}
