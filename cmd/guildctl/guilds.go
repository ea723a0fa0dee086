package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/guildclient"
	"github.com/PortNumber53/buildforme-dashboard/backend/internal/session"
)

func newGuildsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guilds",
		Short: "List the guilds you administer with bot and premium status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGuilds(cmd, v)
		},
	}
	cmd.Flags().Bool("refresh", false, "bypass the client cache on every poll with --watch")
	cmd.Flags().Bool("watch", false, "keep polling and print changes")
	cmd.Flags().Duration("interval", guildclient.DefaultCacheWindow, "polling interval with --watch")
	_ = v.BindPFlags(cmd.Flags())
	return cmd
}

func runGuilds(cmd *cobra.Command, v *viper.Viper) error {
	token := v.GetString("token")
	if token == "" {
		return errors.New("an access token is required (--token or GUILDCTL_TOKEN)")
	}
	format, err := parseFormat(v.GetString("output"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := v.GetDuration("interval")
	client := guildclient.New(v.GetString("api-url"),
		guildclient.WithCacheWindow(interval),
		guildclient.WithNotify(func(err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "error loading servers: %v\n", err)
		}),
	)

	sessions := session.NewStore(nil)
	unwatch := client.Watch(sessions)
	defer unwatch()

	sess := session.Session{UserID: "cli", AccessToken: token, ProviderToken: v.GetString("provider-token")}
	if err := sessions.SignIn(ctx, sess); err != nil {
		return err
	}
	defer func() { _ = sessions.SignOut(context.WithoutCancel(ctx), sess.UserID) }()

	// Sign-in reset the cache, so this joins the load Watch started.
	guilds, err := client.Guilds(ctx)
	if err != nil {
		return err
	}
	if err := render(cmd.OutOrStdout(), format, guilds, client.State().Warnings); err != nil {
		return err
	}
	if !v.GetBool("watch") {
		return nil
	}

	poll := client.Guilds
	if v.GetBool("refresh") {
		poll = client.Refetch
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			guilds, err := poll(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("refresh failed")
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if err := render(cmd.OutOrStdout(), format, guilds, client.State().Warnings); err != nil {
				return err
			}
		}
	}
}
