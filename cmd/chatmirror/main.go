package main

import (
	"os"
	"strings"

	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/chatmirror/cmd/chatmirror/cmds"
	"github.com/go-go-golems/chatmirror/pkg/settings"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "chatmirror",
	Short: "chatmirror keeps a local copy of your remote chat history",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		err := clay.InitLogger()
		cobra.CheckErr(err)
	},
	SilenceUsage: true,
}

func addSettingsFlags(fs *pflag.FlagSet) {
	fs.String("base-url", "", "Base URL of the conversation service")
	fs.String("mirror-backend", "", "Local mirror backend (memory, yaml, sqlite, bolt, redis)")
	fs.String("mirror-path", "", "Local mirror file")
}

// flagKeys maps flat flag names to nested settings keys.
var flagKeys = map[string]string{
	"base-url":       "remote.base-url",
	"mirror-backend": "mirror.backend",
	"mirror-path":    "mirror.path",
}

func initCommands(rootCmd *cobra.Command) error {
	// a missing .env is fine
	_ = godotenv.Load()

	if err := settings.SetDefaults(viper.GetViper()); err != nil {
		return err
	}

	addSettingsFlags(rootCmd.PersistentFlags())

	// registers the logging and --config flags, reads the config file and
	// binds the persistent flags
	if err := clay.InitViper("chatmirror", rootCmd); err != nil {
		return err
	}
	// nested keys such as store.max-inflight map to CHATMIRROR_STORE_MAX_INFLIGHT
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	fs := rootCmd.PersistentFlags()
	for flag, key := range flagKeys {
		if err := viper.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}

	if err := clay.InitLogger(); err != nil {
		return err
	}

	log.Debug().
		Str("config", viper.ConfigFileUsed()).
		Msg("Loaded configuration")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	err := initCommands(rootCmd)
	cobra.CheckErr(err)

	cmds.AddCommands(rootCmd)
}
