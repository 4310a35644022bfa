package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/pairing"
)

func devicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage paired mobile devices",
	}
	cmd.AddCommand(devicesListCmd(), devicesRevokeCmd())
	return cmd
}

func devicesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List approved devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := pairing.NewStore(resolveStateDir())
			devices, err := store.ListDevices()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No paired devices.")
				return nil
			}
			for _, d := range devices {
				expires := "never"
				if d.ExpiresAt != nil {
					expires = d.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  paired=%s  expires=%s\n",
					d.DeviceID, d.PairedAt.Format(time.RFC3339), expires)
			}
			return nil
		},
	}
}

func devicesRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Revoke an approved device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := pairing.NewStore(resolveStateDir())
			removed, err := store.RevokeDevice(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("device %q not found", args[0])
			}
			fmt.Printf("Revoked %s\n", args[0])
			return nil
		},
	}
}
