package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/config"
)

func channelsAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage channel plugin configurations",
	}
	cmd.AddCommand(channelsListCmd(), channelsEnableCmd(true), channelsEnableCmd(false))
	return cmd
}

func channelsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			configs, err := config.ListChannelConfigs(resolveStateDir())
			if err != nil {
				return err
			}
			if len(configs) == 0 {
				fmt.Println("No channels configured.")
				return nil
			}
			for _, c := range configs {
				state := "disabled"
				if c.Enabled {
					state = "enabled"
				}
				fmt.Printf("%s  %s\n", c.Name, state)
			}
			return nil
		},
	}
}

func channelsEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <name>", "Enable a channel plugin"
	if !enable {
		use, short = "disable <name>", "Disable a channel plugin"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveStateDir()
			name := args[0]
			cfg, err := config.LoadChannelConfig(dir, name)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = &config.ChannelConfig{Name: name}
			}
			cfg.Enabled = enable
			if err := config.SaveChannelConfig(dir, cfg); err != nil {
				return err
			}
			fmt.Printf("Channel %s %s.\n", name, map[bool]string{true: "enabled", false: "disabled"}[enable])
			return nil
		},
	}
}
