package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/tool"
	"github.com/m-mizutani/atlas/pkg/tool/bigquery"
	"github.com/m-mizutani/atlas/pkg/tool/sqlrunner"
	"github.com/m-mizutani/atlas/pkg/tool/websearch"
	"github.com/m-mizutani/atlas/pkg/usecase/agent"
)

// defaultTools returns the built-in tool set. Each tool decides at Init
// whether it has enough configuration to enable itself.
func defaultTools() []tool.Tool {
	return []tool.Tool{
		sqlrunner.New(),
		websearch.New(),
		bigquery.New(),
	}
}

func askCommand() *cli.Command {
	var (
		cfg          config
		instructions string
	)
	tools := defaultTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "instructions",
			Usage:       "Override the base system instructions",
			Sources:     cli.EnvVars("ATLAS_INSTRUCTIONS"),
			Destination: &instructions,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, tool.Flags(tools...)...)

	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a single question and print the answer",
		ArgsUsage: "<message>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			message := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if message == "" {
				return goerr.New("message is required")
			}

			rt, err := cfg.newRuntime(ctx, tools)
			if err != nil {
				return err
			}
			defer rt.Close()

			opts := []agent.Option{agent.WithHistory(false)}
			if instructions != "" {
				opts = append(opts, agent.WithInstructions(instructions))
			}
			a := agent.New(rt.chatModel, rt.registry, rt.knowledge, rt.learnings, opts...)

			answer, err := a.Run(ctx, message)
			if err != nil {
				return goerr.Wrap(err, "failed to answer")
			}

			fmt.Fprintln(c.Root().Writer, answer)
			return nil
		},
	}
}
