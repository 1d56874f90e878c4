package cmds

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/go-go-golems/chatmirror/pkg/conversation"
	"github.com/go-go-golems/chatmirror/pkg/store"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type appRunFunc func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error

// runWithApp opens the app for the duration of fn and persists it
// afterwards, even if fn failed.
func runWithApp(ctx context.Context, fn func(app *App) error) (err error) {
	app, err := NewApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(app)
}

func withApp(run appRunFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return runWithApp(ctx, func(app *App) error {
			return run(ctx, app, cmd, args)
		})
	}
}

// waitSync waits for a remote call and reports its failure on stderr. The
// local change is kept either way.
func waitSync(ctx context.Context, cmd *cobra.Command, h *store.SyncHandle) {
	if err := h.Wait(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: remote update failed: %v\n", err)
	}
}

// reportSyncError prints the recorded sync error once.
func reportSyncError(w io.Writer, s *store.Store) {
	if msg := s.SyncError(); msg != "" {
		fmt.Fprintf(w, "warning: %s\n", msg)
		s.ClearSyncError()
	}
}

func conversationRows(s *store.Store) []types.Row {
	current := s.CurrentConversationID()
	convs := s.Conversations()
	rows := make([]types.Row, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, types.NewRow(
			types.MRP("current", c.ID == current),
			types.MRP("id", c.ID),
			types.MRP("date", c.Date),
			types.MRP("messages", len(c.Messages)),
			types.MRP("title", c.Title),
		))
	}
	return rows
}

type ListSettings struct {
	Offline bool `glazed.parameter:"offline"`
}

type ListCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = (*ListCommand)(nil)

func NewListCommand() (*ListCommand, error) {
	glazedParameterLayer, err := glazed_settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &ListCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"list",
			glazed_cmds.WithShort("List conversations"),
			glazed_cmds.WithFlags(
				parameters.NewParameterDefinition(
					"offline",
					parameters.ParameterTypeBool,
					parameters.WithHelp("Only show the local mirror"),
					parameters.WithDefault(false),
				),
			),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ListCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	s := &ListSettings{}
	if err := parsedLayers.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return errors.Wrap(err, "could not initialize list settings")
	}

	return runWithApp(ctx, func(app *App) error {
		if !s.Offline {
			app.Store.LoadConversations(ctx)
			reportSyncError(os.Stderr, app.Store)
		}
		for _, row := range conversationRows(app.Store) {
			if err := gp.AddRow(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func NewSyncCommand() *cobra.Command {
	var all bool
	var printMetrics bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reload conversations from the server",
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			app.Store.LoadConversations(ctx)
			if all {
				current := app.Store.CurrentConversationID()
				for _, c := range app.Store.Conversations() {
					if c.ID != current {
						app.Store.LoadConversationMessages(ctx, c.ID)
					}
				}
			}
			reportSyncError(cmd.ErrOrStderr(), app.Store)

			messages := 0
			convs := app.Store.Conversations()
			for _, c := range convs {
				messages += len(c.Messages)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d conversations, %d messages cached\n", len(convs), messages)

			if printMetrics {
				return writeMetrics(cmd.OutOrStdout(), app.Registry)
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "Load the messages of every conversation")
	cmd.Flags().BoolVar(&printMetrics, "print-metrics", false, "Print request metrics after syncing")
	return cmd
}

func writeMetrics(w io.Writer, reg *prometheus.Registry) error {
	mfs, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			labels := []string{}
			for _, lp := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			series := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", series, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s count=%d sum=%.3fs\n", series, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}

func renderConversation(c *conversation.Conversation, msgs []conversation.Message, withThinking bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", c.Title)
	fmt.Fprintf(&b, "_%s · %s_\n\n", c.ID, c.Date)
	for _, m := range msgs {
		fmt.Fprintf(&b, "**%s**\n\n", m.Role)
		if withThinking && m.HasThinking() {
			for _, line := range strings.Split(strings.TrimSpace(m.Thinking()), "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func NewShowCommand() *cobra.Command {
	var withThinking bool
	var render string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show the messages of a conversation (default: the current one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				waitSync(ctx, cmd, app.Store.SetCurrentConversation(ctx, args[0]))
			} else {
				app.Store.LoadConversationMessages(ctx, app.Store.CurrentConversationID())
			}
			reportSyncError(cmd.ErrOrStderr(), app.Store)

			c, ok := app.Store.Conversation(app.Store.CurrentConversationID())
			if !ok {
				return errors.New("no conversation selected")
			}
			md := renderConversation(c, app.Store.GetCurrentMessages(), withThinking)

			useGlamour := render == "always" ||
				(render == "auto" && isatty.IsTerminal(os.Stdout.Fd()))
			if useGlamour {
				styled, err := glamour.Render(md, "dark")
				if err != nil {
					return err
				}
				md = styled
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		}),
	}
	cmd.Flags().BoolVar(&withThinking, "thinking", false, "Include extracted reasoning")
	cmd.Flags().StringVar(&render, "render", "auto", "Render markdown (auto, always, never)")
	return cmd
}

func NewCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create [title]",
		Short: "Create a conversation and select it",
		Args:  cobra.MaximumNArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			title := ""
			if len(args) == 1 {
				title = args[0]
			}
			id, h := app.Store.CreateConversation(ctx, title)
			waitSync(ctx, cmd, h)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}),
	}
}

func NewRenameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			waitSync(ctx, cmd, app.Store.UpdateConversationTitle(ctx, args[0], args[1]))
			return nil
		}),
	}
}

func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			waitSync(ctx, cmd, app.Store.DeleteConversation(ctx, args[0]))
			if current := app.Store.CurrentConversationID(); current != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "current conversation: %s\n", current)
			}
			return nil
		}),
	}
}

func NewSelectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Select a conversation and load its messages",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			waitSync(ctx, cmd, app.Store.SetCurrentConversation(ctx, args[0]))
			reportSyncError(cmd.ErrOrStderr(), app.Store)
			fmt.Fprintf(cmd.OutOrStdout(), "%d messages\n", len(app.Store.GetCurrentMessages()))
			return nil
		}),
	}
}

func parseRole(s string) (conversation.Role, error) {
	switch r := conversation.Role(strings.ToLower(s)); r {
	case conversation.RoleUser, conversation.RoleAssistant, conversation.RoleSystem:
		return r, nil
	default:
		return "", errors.Errorf("unknown role %q", s)
	}
}

func NewAddCommand() *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "add <id> <role> <content>",
		Short: "Append a message to a conversation",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			role, err := parseRole(args[1])
			if err != nil {
				return err
			}
			if _, ok := app.Store.Conversation(args[0]); !ok {
				return errors.Errorf("unknown conversation %q", args[0])
			}
			msg := conversation.NewMessage(role, args[2])
			if save {
				waitSync(ctx, cmd, app.Store.SaveMessage(ctx, args[0], msg))
				return nil
			}
			app.Store.AddMessage(args[0], msg)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&save, "save", false, "Also send the message to the server")
	return cmd
}
