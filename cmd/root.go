// Package cmd wires the hearth CLI: the hub process, the gateway relay,
// channel plugin runners, and pairing/device administration.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/config"
)

// Version is set at build time via -ldflags "-X github.com/hearthkit/hearth/cmd.Version=v1.0.0".
var Version = "dev"

var (
	stateDir string
	verbose  bool
)

var rootCmd = &cobra.Command{
	Use:   "hearth",
	Short: "Personal messaging hub",
	Long: "Hearth bridges chat channels to a local LLM agent: a hub that supervises\n" +
		"channel plugins, a WebSocket gateway relay for paired devices, and an\n" +
		"Ed25519 identity plane for device attestation.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHub(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&stateDir, "state", "", "state directory (default: ~/.hearth or $HEARTH_DIR)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(hubCmd())
	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(channelCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(devicesCmd())
	rootCmd.AddCommand(channelsAdminCmd())
	rootCmd.AddCommand(versionCmd())
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func resolveStateDir() string {
	if stateDir != "" {
		return config.ExpandHome(stateDir)
	}
	return config.DefaultDir()
}

// Execute runs the root cobra command under a signal-cancelled context
// so every subcommand shares the same graceful-shutdown path.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
