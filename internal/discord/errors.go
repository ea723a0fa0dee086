package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/PortNumber53/buildforme-dashboard/backend/internal/apierr"
)

// classify converts a discordgo error into an apierr.Error. REST errors are
// classified by status; anything else that reached the transport is treated as
// transient unless the caller cancelled.
func classify(op string, err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return apierr.FromStatus(op, restErr.Response.StatusCode, restMessage(restErr))
	}
	if errors.Is(err, context.Canceled) {
		return apierr.New(apierr.KindPermanent, op, err)
	}
	return apierr.New(apierr.KindTransient, op, err)
}

func restMessage(restErr *discordgo.RESTError) error {
	if restErr.Message != nil && restErr.Message.Message != "" {
		return fmt.Errorf("%s (code %d)", restErr.Message.Message, restErr.Message.Code)
	}
	return errors.New(restErr.Response.Status)
}
