package cmds

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/go-go-golems/chatmirror/pkg/session"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"
)

func askToken() (string, error) {
	ui := &input.UI{
		Writer: os.Stderr,
		Reader: os.Stdin,
	}
	return ui.Ask("API token", &input.Options{
		Required:  true,
		Loop:      true,
		Mask:      true,
		HideOrder: true,
	})
}

func NewLoginCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API token and fetch the user profile",
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			if token == "" {
				t, err := askToken()
				if err != nil {
					return err
				}
				token = t
			}

			app.Session.SetToken(token)
			info, err := app.Client.GetUserInfo(ctx)
			if err != nil {
				app.Session.Logout()
				return errors.Wrap(err, "login failed")
			}
			app.Session.SetUser(info)

			fmt.Fprintln(cmd.OutOrStdout(), "logged in")
			printUserInfo(cmd, info)
			return nil
		}),
	}
	cmd.Flags().StringVar(&token, "token", "", "API token (prompted if empty)")
	return cmd
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token and user profile",
		RunE: withApp(func(ctx context.Context, app *App, cmd *cobra.Command, args []string) error {
			app.Session.Logout()
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		}),
	}
}

func printUserInfo(cmd *cobra.Command, info map[string]any) {
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %v\n", k, info[k])
	}
}

func statusRow(app *App) types.Row {
	signedIn := !errors.Is(app.Session.CheckAuth(), session.ErrNotAuthenticated)
	user := ""
	if name, ok := app.Session.UserInfo()["username"]; ok {
		user = fmt.Sprint(name)
	}
	return types.NewRow(
		types.MRP("server", app.Client.BaseURL()),
		types.MRP("mirror", app.Settings.Mirror.Backend),
		types.MRP("signed_in", signedIn),
		types.MRP("user", user),
		types.MRP("conversations", len(app.Store.Conversations())),
		types.MRP("current", app.Store.CurrentConversationID()),
	)
}

type StatusCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = (*StatusCommand)(nil)

func NewStatusCommand() (*StatusCommand, error) {
	glazedParameterLayer, err := glazed_settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &StatusCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"status",
			glazed_cmds.WithShort("Show session, configuration and local cache state"),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *StatusCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	return runWithApp(ctx, func(app *App) error {
		return gp.AddRow(ctx, statusRow(app))
	})
}
