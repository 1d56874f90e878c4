package cmds

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/chatmirror/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/cli"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/middlewares"
	glazed_settings "github.com/go-go-golems/glazed/pkg/settings"
	"github.com/go-go-golems/glazed/pkg/types"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(s)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(b))
			return err
		},
	})

	keys, err := NewConfigKeysCommand()
	cobra.CheckErr(err)
	keysCmd, err := cli.BuildCobraCommandFromGlazeCommand(keys)
	cobra.CheckErr(err)
	cmd.AddCommand(keysCmd)

	return cmd
}

// envName returns the environment variable that overrides key.
func envName(key string) string {
	return "CHATMIRROR_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func configKeyRows(v *viper.Viper) []types.Row {
	keys := settings.Keys()
	rows := make([]types.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, types.NewRow(
			types.MRP("key", k),
			types.MRP("value", v.Get(k)),
			types.MRP("env", envName(k)),
		))
	}
	return rows
}

type ConfigKeysCommand struct {
	*glazed_cmds.CommandDescription
}

var _ glazed_cmds.GlazeCommand = (*ConfigKeysCommand)(nil)

func NewConfigKeysCommand() (*ConfigKeysCommand, error) {
	glazedParameterLayer, err := glazed_settings.NewGlazedParameterLayers()
	if err != nil {
		return nil, errors.Wrap(err, "could not create glazed parameter layer")
	}

	return &ConfigKeysCommand{
		CommandDescription: glazed_cmds.NewCommandDescription(
			"keys",
			glazed_cmds.WithShort("List the configuration keys with their effective values"),
			glazed_cmds.WithLayersList(glazedParameterLayer),
		),
	}, nil
}

func (c *ConfigKeysCommand) RunIntoGlazeProcessor(ctx context.Context, parsedLayers *layers.ParsedLayers, gp middlewares.Processor) error {
	for _, row := range configKeyRows(viper.GetViper()) {
		if err := gp.AddRow(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

func AddCommands(rootCmd *cobra.Command) {
	listCmd, err := NewListCommand()
	cobra.CheckErr(err)
	listCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCmd)
	cobra.CheckErr(err)

	statusCmd, err := NewStatusCommand()
	cobra.CheckErr(err)
	statusCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(statusCmd)
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		listCobraCmd,
		NewSyncCommand(),
		NewShowCommand(),
		NewCreateCommand(),
		NewRenameCommand(),
		NewDeleteCommand(),
		NewSelectCommand(),
		NewAddCommand(),
		NewLoginCommand(),
		NewLogoutCommand(),
		statusCobraCmd,
		NewServeFakeCommand(),
		NewSchemaCommand(),
		NewConfigCommand(),
	)
}
