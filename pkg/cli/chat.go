package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/m-mizutani/atlas/pkg/tool"
	"github.com/m-mizutani/atlas/pkg/usecase/agent"
)

// pendingWriter streams tokens to w, stopping the pending spinner on
// the first token of each turn.
type pendingWriter struct {
	mu      sync.Mutex
	w       io.Writer
	spinner *spinner.Spinner
}

func (x *pendingWriter) begin(s *spinner.Spinner) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.spinner = s
}

func (x *pendingWriter) Write(p []byte) (int, error) {
	x.mu.Lock()
	if x.spinner != nil {
		x.spinner.Stop()
		x.spinner = nil
	}
	x.mu.Unlock()
	return x.w.Write(p)
}

func chatCommand() *cli.Command {
	var (
		cfg          config
		instructions string
		historyRuns  int64
	)
	tools := defaultTools()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "instructions",
			Usage:       "Override the base system instructions",
			Sources:     cli.EnvVars("ATLAS_INSTRUCTIONS"),
			Destination: &instructions,
		},
		&cli.IntFlag{
			Name:        "history-runs",
			Usage:       "Number of past exchanges kept in context",
			Value:       5,
			Sources:     cli.EnvVars("ATLAS_HISTORY_RUNS"),
			Destination: &historyRuns,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, tool.Flags(tools...)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive session with streaming answers",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			rt, err := cfg.newRuntime(ctx, tools)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := &pendingWriter{w: c.Root().Writer}
			opts := []agent.Option{
				agent.WithOutput(out),
				agent.WithHistoryRuns(int(historyRuns)),
			}
			if instructions != "" {
				opts = append(opts, agent.WithInstructions(instructions))
			}
			a := agent.New(rt.chatModel, rt.registry, rt.knowledge, rt.learnings, opts...)

			rl, err := readline.New("atlas> ")
			if err != nil {
				return goerr.Wrap(err, "failed to open prompt")
			}
			defer rl.Close()

			fmt.Fprintln(c.Root().Writer, "Chat session started. Type 'exit' to quit.")

			for {
				line, err := rl.Readline()
				if err == readline.ErrInterrupt {
					continue
				}
				if err == io.EOF {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "" {
					continue
				}
				if message == "exit" || message == "quit" {
					break
				}

				s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " thinking..."
				s.Start()
				out.begin(s)

				_, err = a.Run(ctx, message)
				s.Stop()
				if err != nil {
					fmt.Fprintf(c.Root().Writer, "Error: %v\n", err)
					continue
				}
				fmt.Fprintln(c.Root().Writer)
			}

			fmt.Fprintln(c.Root().Writer, "Chat session completed")
			return nil
		},
	}
}
