package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/channels/devices"
	"github.com/hearthkit/hearth/internal/channels/echo"
	"github.com/hearthkit/hearth/pkg/channelsdk"
)

// builtinChannels maps channel names to their constructors. Third-party
// plugins run as their own binaries; these ship with the hub.
var builtinChannels = map[string]func() channelsdk.Plugin{
	"devices": func() channelsdk.Plugin { return devices.New() },
	"echo":    func() channelsdk.Plugin { return echo.New() },
}

func channelCmd() *cobra.Command {
	var hubWS string

	cmd := &cobra.Command{
		Use:   "channel <name>",
		Short: "Run a built-in channel plugin process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ctor, ok := builtinChannels[name]
			if !ok {
				return fmt.Errorf("unknown channel %q", name)
			}
			transport := channelsdk.NewTransport(ctor(), hubWS)
			if err := transport.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&hubWS, "hub-ws", "ws://127.0.0.1:18081", "hub plugin socket URL")
	return cmd
}
