package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/models"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

func parseFormat(s string) (outputFormat, error) {
	switch f := outputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	case "yml":
		return formatYAML, nil
	case "":
		return formatTable, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

type guildRow struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Owner        bool   `json:"owner" yaml:"owner"`
	Members      int    `json:"member_count" yaml:"member_count"`
	BotStatus    string `json:"bot_status" yaml:"bot_status"`
	Subscription string `json:"subscription_status" yaml:"subscription_status"`
	Channels     int    `json:"total_channels,omitempty" yaml:"total_channels,omitempty"`
}

type guildList struct {
	Guilds   []guildRow       `json:"guilds" yaml:"guilds"`
	Warnings *models.Warnings `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func toRows(guilds []models.GuildView) []guildRow {
	rows := make([]guildRow, 0, len(guilds))
	for _, g := range guilds {
		row := guildRow{
			ID:           g.ID,
			Name:         g.Name,
			Owner:        g.Owner,
			Members:      g.MemberCount,
			BotStatus:    string(g.BotStatus),
			Subscription: string(g.SubscriptionStatus),
		}
		if g.Analytics != nil {
			row.Channels = g.Analytics.TotalChannels
		}
		rows = append(rows, row)
	}
	return rows
}

func render(w io.Writer, format outputFormat, guilds []models.GuildView, warnings *models.Warnings) error {
	list := guildList{Guilds: toRows(guilds), Warnings: warnings}

	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(list); err != nil {
			return err
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tOWNER\tMEMBERS\tBOT\tPLAN")
	for _, r := range list.Guilds {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\t%s\n", r.ID, r.Name, r.Owner, r.Members, r.BotStatus, r.Subscription)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if warnings != nil && warnings.MissingBotToken {
		fmt.Fprintln(w, "\nnote: the backend has no bot token, member counts and bot status are limited")
	}
	return nil
}
