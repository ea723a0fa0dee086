package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/discord"
)

func newInviteURLCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite-url",
		Short: "Print the bot authorization URL for a guild",
		RunE: func(cmd *cobra.Command, _ []string) error {
			clientID := v.GetString("client-id")
			if clientID == "" {
				return errors.New("a bot client id is required (--client-id or GUILDCTL_CLIENT_ID)")
			}
			url := discord.BuildInviteURL(clientID, discord.InviteOptions{
				GuildID:            v.GetString("guild"),
				DisableGuildSelect: v.GetBool("disable-guild-select"),
			})
			if v.GetBool("app") {
				url = discord.AppDeeplink(url)
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), url)
			return err
		},
	}
	cmd.Flags().String("client-id", "", "Discord application id of the bot")
	cmd.Flags().String("guild", "", "guild to preselect")
	cmd.Flags().Bool("disable-guild-select", false, "lock the guild picker to --guild")
	cmd.Flags().Bool("app", false, "print the desktop app deeplink instead")
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}
