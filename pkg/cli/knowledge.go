package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/model"
)

func knowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "knowledge",
		Usage: "Manage the knowledge base",
		Commands: []*cli.Command{
			knowledgeImportCommand(),
			knowledgeSearchCommand(),
			knowledgeDeleteCommand(),
		},
	}
}

func knowledgeImportCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "import",
		Usage:     "Import documents from a directory into the knowledge base",
		ArgsUsage: "<dir>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			dir := c.Args().First()
			if dir == "" {
				return goerr.New("directory is required")
			}

			rt, err := cfg.newRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			inserted, err := rt.knowledge.LoadDirectory(ctx, dir)
			if err != nil {
				return goerr.Wrap(err, "failed to import documents", goerr.V("dir", dir))
			}

			fmt.Fprintf(c.Root().Writer, "Imported %d documents\n", inserted)
			return nil
		},
	}
}

func knowledgeSearchCommand() *cli.Command {
	var (
		cfg   config
		limit int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       10,
			Sources:     cli.EnvVars("ATLAS_SEARCH_LIMIT"),
			Destination: &limit,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Hybrid search over the knowledge base",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query := c.Args().First()
			if query == "" {
				return goerr.New("query is required")
			}

			rt, err := cfg.newRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			hits, err := rt.knowledge.Search(ctx, query, int(limit))
			if err != nil {
				return goerr.Wrap(err, "failed to search knowledge")
			}

			if len(hits) == 0 {
				fmt.Fprintln(c.Root().Writer, "No results found.")
				return nil
			}

			for _, h := range hits {
				fmt.Fprintf(c.Root().Writer, "%d\t%.4f\t%s\n\t%s\n",
					h.ID, h.Score, h.Name(), model.Snippet(h.Content, 200))
			}
			return nil
		},
	}
}

func knowledgeDeleteCommand() *cli.Command {
	var cfg config

	flags := globalFlags(&cfg)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a knowledge item by ID",
		ArgsUsage: "<id>",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			raw := c.Args().First()
			if raw == "" {
				return goerr.New("id is required")
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return goerr.Wrap(err, "invalid id", goerr.V("id", raw))
			}

			rt, err := cfg.newRuntime(ctx, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.knowledge.Delete(ctx, id); err != nil {
				return goerr.Wrap(err, "failed to delete knowledge item")
			}

			fmt.Fprintf(c.Root().Writer, "Deleted knowledge item %d\n", id)
			return nil
		},
	}
}
