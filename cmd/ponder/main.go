package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ponder/internal/agent"
	"ponder/internal/chat"
	"ponder/internal/journal"
	"ponder/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "ponder: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

// openFlags select the conversation a command works on.
type openFlags struct {
	session   string
	decisions []string
}

func (f openFlags) options(trigger chat.Trigger) agent.OpenOptions {
	opts := agent.OpenOptions{SessionID: chat.SessionID(strings.TrimSpace(f.session)), Trigger: trigger}
	for _, id := range f.decisions {
		if id = strings.TrimSpace(id); id != "" {
			opts.DecisionIDs = append(opts.DecisionIDs, journal.DecisionID(id))
		}
	}
	return opts
}

func (f *openFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.session, "session", "", "Resume a saved session by id")
	cmd.Flags().StringSliceVar(&f.decisions, "decision", nil, "Anchor the conversation to a decision id (repeatable)")
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ponder",
		Short:         "ponder is a conversational companion for a decision journal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	chatCmd := newChatCmd(&configPath)
	root.RunE = chatCmd.RunE
	root.Flags().AddFlagSet(chatCmd.Flags())

	root.AddCommand(
		chatCmd,
		newAskCmd(&configPath),
		newSessionsCmd(&configPath),
		newDecisionsCmd(&configPath),
		newReindexCmd(&configPath),
	)
	return root
}

func newChatCmd(configPath *string) *cobra.Command {
	var (
		flags   openFlags
		discuss string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Open the chat UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			trigger := chat.TriggerManual
			if discuss != "" {
				trigger = chat.TriggerAuto
			}
			conv, err := rt.agent.Open(ctx, flags.options(trigger))
			if err != nil {
				return err
			}
			defer conv.Close()

			app := tui.NewApp(tui.AppConfig{
				Version:       version,
				ThemeName:     rt.cfg.TUI.Theme,
				ShowInspector: true,
				Agent:         rt.agent,
				Conversation:  conv,
				Pending:       discuss,
				Context:       ctx,
			})
			defer app.Close()

			program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&discuss, "discuss", "", "Message to send as soon as the chat opens")
	return cmd
}

func newAskCmd(configPath *string) *cobra.Command {
	var flags openFlags
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and stream the reply to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			return runAsk(ctx, rt.agent, flags.options(chat.TriggerManual), strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	return cmd
}

// runAsk sends one message and writes the reply as it streams.
func runAsk(ctx context.Context, a *agent.Agent, opts agent.OpenOptions, question string, out io.Writer) error {
	conv, err := a.Open(ctx, opts)
	if err != nil {
		return err
	}
	defer conv.Close()

	events, unsubscribe := a.Events().Subscribe(256)
	defer unsubscribe()

	done := make(chan struct{})
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		w := &replyWriter{out: out, seen: make(map[chat.MessageID]string)}
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				w.apply(ev)
			case <-done:
				for {
					select {
					case ev, ok := <-events:
						if !ok {
							return
						}
						w.apply(ev)
					default:
						return
					}
				}
			}
		}
	}()

	err = conv.Send(ctx, question)
	close(done)
	<-printed
	_, _ = fmt.Fprintln(out)

	if errors.Is(err, agent.ErrBackendUnavailable) {
		return fmt.Errorf("%w: start the model server or check your config", err)
	}
	return err
}

// replyWriter prints the new suffix of each assistant message update.
type replyWriter struct {
	out  io.Writer
	seen map[chat.MessageID]string
}

func (w *replyWriter) apply(ev chat.Event) {
	if ev.Type != chat.EventMessageUpserted || ev.Message == nil || ev.Message.Role != chat.RoleAssistant {
		return
	}
	prev := w.seen[ev.Message.ID]
	content := ev.Message.Content
	if !strings.HasPrefix(content, prev) {
		return
	}
	_, _ = io.WriteString(w.out, content[len(prev):])
	w.seen[ev.Message.ID] = content
}

func newSessionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage saved chat sessions",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			summaries, err := rt.sessions.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), summaries)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 0, "Maximum sessions to list (default from config)")

	rename := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.sessions.Rename(cmd.Context(), chat.SessionID(args[0]), strings.Join(args[1:], " "))
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			return rt.sessions.Delete(cmd.Context(), chat.SessionID(args[0]))
		},
	}

	cmd.AddCommand(list, rename, del)
	return cmd
}

func printSessions(out io.Writer, summaries []chat.SessionSummary) {
	if len(summaries) == 0 {
		_, _ = fmt.Fprintln(out, "No sessions yet.")
		return
	}
	for _, s := range summaries {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		_, _ = fmt.Fprintf(out, "%-36s  %3d  %s  %s\n", s.ID, s.MessageCount, s.UpdatedAt.Local().Format("2006-01-02 15:04"), title)
	}
}

func newDecisionsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Seed and inspect the decision journal",
	}
	imp := &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Import decisions and a profile from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rt, err := openRuntime(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			var indexer decisionIndexer
			if rt.retrieval != nil {
				indexer = rt.retrieval
			}
			res, err := importJournal(cmd.Context(), f, rt.store, indexer, rt.log)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "imported %d decisions (%d indexed)\n", res.Decisions, res.Indexed)
			return nil
		},
	}
	cmd.AddCommand(imp)
	return cmd
}

func newReindexCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Embed every decision for similarity search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := openRuntime(ctx, *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.retrieval == nil {
				return errors.New("retrieval is not configured: set provider.ollama.embed_model")
			}
			decisions, err := rt.store.ListDecisions(ctx, journal.Filter{})
			if err != nil {
				return err
			}
			n, err := rt.retrieval.Reindex(ctx, decisions)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "indexed %d of %d decisions\n", n, len(decisions))
			return err
		},
	}
}
