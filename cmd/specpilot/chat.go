package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"specpilot/internal/agent/ports"
	"specpilot/internal/router"
	"specpilot/internal/shared/errors"
)

// lineReader is the part of readline the REPL uses.
type lineReader interface {
	Readline() (string, error)
	Close() error
}

// chatRouter is the part of the stage router the REPL drives.
type chatRouter interface {
	Create(ctx context.Context) (*ports.SessionState, error)
	Get(ctx context.Context, sessionID string) (*ports.Session, error)
	Advance(ctx context.Context, sessionID, userMessage string) (router.TurnResult, error)
}

func (c *CLI) chatCommand() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive specification session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			container, err := c.buildContainer()
			if err != nil {
				return err
			}
			defer func() {
				if err := container.Shutdown(context.Background()); err != nil {
					fmt.Fprintf(c.errOut, "Cleanup error: %v\n", err)
				}
			}()

			rl, err := newReadline(c.out, c.errOut)
			if err != nil {
				return err
			}
			defer rl.Close()

			return runChat(cmd.Context(), container.Router, sessionID, rl, c.out)
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Resume an existing session id")
	return cmd
}

func newReadline(out, errOut io.Writer) (*readline.Instance, error) {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, ".specpilot")
		if err := os.MkdirAll(dir, 0o755); err == nil {
			historyFile = filepath.Join(dir, "history")
		}
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("you › "),
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    !isTTY(),

		Stdin:  readline.NewCancelableStdin(os.Stdin),
		Stdout: out,
		Stderr: errOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return rl, nil
}

// runChat drives one session until the user quits or input ends.
func runChat(ctx context.Context, r chatRouter, sessionID string, in lineReader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	state, err := openSession(ctx, r, sessionID)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, bold("specpilot")+" - describe your product idea. Type 'exit' to quit, '/status' for progress.")
	fmt.Fprintf(out, "%s %s  %s %s\n\n", gray("session"), state.SessionID, gray("stage"), state.Stage)
	if state.Stage == ports.StageCompleted {
		printFinalSpec(out, state)
	} else if len(state.PendingOptions) > 0 {
		printOptions(out, state.PendingOptions)
	} else if state.NextQuestion != "" {
		fmt.Fprintln(out, green(state.NextQuestion))
	}

	for {
		input, err := in.Readline()
		if stderrors.Is(err, readline.ErrInterrupt) {
			if strings.TrimSpace(input) == "" {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			continue
		}
		if stderrors.Is(err, io.EOF) {
			fmt.Fprintln(out, "Goodbye!")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "exit", "quit", "q":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "/status":
			if err := printStatus(ctx, r, state.SessionID, out); err != nil {
				fmt.Fprintln(out, red("Error: ")+errors.FormatForUser(err))
			}
			continue
		}

		result, err := r.Advance(ctx, state.SessionID, input)
		if err != nil {
			fmt.Fprintln(out, red("Error: ")+errors.FormatForUser(err))
			continue
		}
		state = result.Session
		printTurn(out, result)
	}
}

func openSession(ctx context.Context, r chatRouter, sessionID string) (*ports.SessionState, error) {
	if sessionID = strings.TrimSpace(sessionID); sessionID == "" {
		state, err := r.Create(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return state, nil
	}
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resume session %s: %w", sessionID, err)
	}
	return session.State, nil
}

func printTurn(out io.Writer, result router.TurnResult) {
	if result.Reply != "" {
		fmt.Fprintf(out, "\n%s\n", green(result.Reply))
	}
	if len(result.Options) > 0 {
		printOptions(out, result.Options)
	}
	if result.Session != nil {
		if result.Session.Stage == ports.StageCompleted {
			printFinalSpec(out, result.Session)
		}
		fmt.Fprintf(out, "%s\n\n", gray(fmt.Sprintf("[%s · %d%% complete]", result.Session.Stage, result.Session.Completeness)))
	}
}

func printOptions(out io.Writer, options []ports.Option) {
	fmt.Fprintln(out, yellow("Choose an option (number, id or your own answer):"))
	for i, opt := range options {
		line := fmt.Sprintf("  %d. %s", i+1, opt.Label)
		if opt.Value != "" && opt.Value != opt.Label {
			line += gray(" - " + opt.Value)
		}
		fmt.Fprintln(out, line)
	}
}

func printFinalSpec(out io.Writer, state *ports.SessionState) {
	if state.FinalSpec == "" {
		return
	}
	fmt.Fprintf(out, "\n%s\n%s\n", bold("Final specification"), renderMarkdown(state.FinalSpec))
}

// renderMarkdown renders content for the terminal; piped output stays raw.
func renderMarkdown(content string) string {
	if !isTTY() {
		return content
	}
	width := 100
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		width = min(w-4, 120)
	}
	return string(markdown.Render(content, width, 2))
}

func printStatus(ctx context.Context, r chatRouter, sessionID string, out io.Writer) error {
	session, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	state := session.State
	fmt.Fprintf(out, "%s %s\n", bold("Stage:"), state.Stage)
	fmt.Fprintf(out, "%s %d%%\n", bold("Completeness:"), state.Completeness)
	if len(state.MissingFields) > 0 {
		fmt.Fprintf(out, "%s %s\n", bold("Missing:"), strings.Join(state.MissingFields, ", "))
	}
	for stage, choice := range state.Selections {
		fmt.Fprintf(out, "  %s %s\n", gray(stage+":"), choice)
	}
	fmt.Fprintf(out, "%s %d\n", bold("Messages:"), len(session.Messages))
	return nil
}
