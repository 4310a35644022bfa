package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/config"
	"github.com/hearthkit/hearth/internal/gateway"
)

func gatewayCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the WebSocket relay gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := resolveStateDir()
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			if host == "" {
				host = cfg.Gateway.Host
			}
			if port == 0 {
				port = cfg.Gateway.Port
			}

			auth := gateway.OpenAuthStore(filepath.Join(dir, "gateway_trust.json"))
			srv := gateway.NewServer(host, port, auth)
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (default from config)")
	return cmd
}
