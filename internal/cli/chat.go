package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/odgrid/internal/agent"
	"github.com/leapstack-labs/odgrid/internal/llm"
)

// NewChatCommand creates the agent chat command.
func NewChatCommand() *cobra.Command {
	var auto bool

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Ask the agent to browse and analyze data for you",
		Long: `Start an agent session against the configured environment. With a
prompt argument the agent answers once and exits; without one an
interactive chat opens.

The agent drives the same grid the browse command shows: it loads
entities, filters, joins, and runs analytics, narrating each step.
Each batch of actions needs approval unless --auto is set.`,
		Example: `  odgrid chat "which customers have open sales orders over 10000?"
  odgrid chat --auto`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)

			client, err := llm.New(llm.Config{
				Provider:  app.Config.LLM.Provider,
				APIKey:    app.Config.LLM.APIKey,
				Model:     app.Config.LLM.Model,
				BaseURL:   app.Config.LLM.BaseURL,
				MaxTokens: app.Config.LLM.MaxTokens,
			})
			if err != nil {
				return err
			}

			conn, err := app.connect(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer conn.Close()

			sessionID := uuid.NewString()
			logger := app.Logger.With("chat_session", sessionID)

			interp := agent.NewInterpreter(conn.session, app.Config.ExportDir, logger)
			var approver agent.Approver
			if !auto && !app.Config.LLM.AutoExecute {
				approver = &consoleApprover{in: cmd.InOrStdin(), out: cmd.OutOrStdout()}
			}
			loop := agent.NewLoop(conn.session, interp, client, approver,
				&consoleEvents{out: cmd.OutOrStdout()}, logger)
			if app.Config.LLM.CustomPrompt != "" {
				loop.SetCustomPrompt(app.Config.LLM.CustomPrompt)
			}
			loop.SetMaxSteps(app.Config.LLM.MaxSteps)

			if len(args) == 1 {
				return loop.Run(cmd.Context(), args[0])
			}
			return runChatREPL(cmd, loop)
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "execute agent actions without approval prompts")
	return cmd
}

func runChatREPL(cmd *cobra.Command, loop *agent.Loop) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "odgrid chat - ask about your data. Type .quit to exit, .clear to forget the conversation.")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat: %w", err)
	}
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case ".quit", ".exit":
			return nil
		case ".clear":
			loop.ClearHistory()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		if err := loop.Run(cmd.Context(), line); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

// consoleEvents prints assistant turns to the terminal.
type consoleEvents struct {
	out io.Writer
}

func (e *consoleEvents) AssistantMessage(text string) {
	fmt.Fprintf(e.out, "\nassistant> %s\n", text)
}

// consoleApprover asks before each batch of agent actions runs.
type consoleApprover struct {
	in  io.Reader
	out io.Writer
}

func (a *consoleApprover) Approve(blocks []string) (agent.Decision, []int) {
	fmt.Fprintf(a.out, "\nThe agent wants to run %d action block(s):\n", len(blocks))
	for i, b := range blocks {
		fmt.Fprintf(a.out, "  [%d] %s\n", i+1, strings.ReplaceAll(strings.TrimSpace(b), "\n", "; "))
	}
	fmt.Fprint(a.out, "Run? [Y]es all / numbers (e.g. 1,3) / [n]o: ")

	var answer string
	if _, err := fmt.Fscanln(a.in, &answer); err != nil {
		return agent.Skip, nil
	}
	answer = strings.TrimSpace(strings.ToLower(answer))
	switch answer {
	case "", "y", "yes", "a", "all":
		return agent.RunAll, nil
	case "n", "no":
		return agent.Skip, nil
	}

	var selected []int
	for _, part := range strings.Split(answer, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 || n > len(blocks) {
			continue
		}
		selected = append(selected, n-1)
	}
	if len(selected) == 0 {
		return agent.Skip, nil
	}
	return agent.RunSelected, selected
}
