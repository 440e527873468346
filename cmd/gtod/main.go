package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dialoglab/gtod/internal/cli/d3st"
	"github.com/dialoglab/gtod/internal/cli/sdt"
	"github.com/dialoglab/gtod/internal/cli/self"
	sercmd "github.com/dialoglab/gtod/internal/cli/ser"
	"github.com/dialoglab/gtod/internal/log"
)

var version = "v0.1.0"

func main() {
	app := &cli.App{
		Name:    "gtod",
		Usage:   "Text-to-text data tooling for task-oriented dialogue corpora",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			log.Setup(c.Bool("verbose"))
			return nil
		},
		Action: func(c *cli.Context) error {
			// Default action if no command is specified
			_ = cli.ShowAppHelp(c)
			return nil
		},
		Commands: []*cli.Command{
			d3st.NewD3STCommand(),
			sdt.NewSDTCommand(),
			sercmd.NewSERCommand(),
			self.NewSelfCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger := log.L()
		logger.Fatal().Err(err).Msg("gtod failed")
	}
}
