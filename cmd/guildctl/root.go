package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/logging"
)

const envPrefix = "GUILDCTL"

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	root := &cobra.Command{
		Use:           "guildctl",
		Short:         "Inspect BuildForMe guilds from the command line",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(v, cfgFile); err != nil {
				return err
			}
			logging.SetupWriter(cmd.ErrOrStderr(), v.GetString("log-level"), "console")
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default $HOME/.guildctl.yaml)")
	flags.String("api-url", "http://localhost:18111", "dashboard backend base URL")
	flags.String("token", "", "access token (JWT) of the signed-in user")
	flags.String("provider-token", "", "Discord OAuth token forwarded to the backend")
	flags.StringP("output", "o", "table", "output format: table, json or yaml")
	flags.String("log-level", "warn", "log level")
	_ = v.BindPFlags(flags)

	root.AddCommand(newGuildsCmd(v), newInviteURLCmd(v))
	return root
}

// loadConfig layers flags over GUILDCTL_* environment variables over the
// optional config file.
func loadConfig(v *viper.Viper, cfgFile string) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.SetConfigFile(filepath.Join(home, ".guildctl.yaml"))
		if _, err := os.Stat(v.ConfigFileUsed()); os.IsNotExist(err) {
			return nil
		}
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}
