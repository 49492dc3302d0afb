package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/repository"
	"github.com/m-mizutani/atlas/pkg/utils/logging"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "atlas",
		Usage: "Self-improving retrieval-augmented agent",
		Commands: []*cli.Command{
			initCommand(),
			askCommand(),
			chatCommand(),
			knowledgeCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

func initCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "init",
		Usage: "Create the knowledge and learnings tables and indexes",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			rt, err := cfg.newRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			stores := []struct {
				table string
				store *repository.Postgres
			}{
				{cfg.knowledgeTable, rt.knowledgeStore},
				{cfg.learningsTable, rt.learningsStore},
			}
			for _, s := range stores {
				if err := s.store.Migrate(ctx); err != nil {
					return err
				}
				fmt.Fprintf(c.Root().Writer, "Initialized table %s\n", s.table)
			}

			return nil
		},
	}
}
