package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hearthkit/hearth/internal/agent"
	"github.com/hearthkit/hearth/internal/bus"
	"github.com/hearthkit/hearth/internal/config"
	"github.com/hearthkit/hearth/internal/identity"
	"github.com/hearthkit/hearth/internal/pairing"
	"github.com/hearthkit/hearth/internal/supervisor"
	"github.com/hearthkit/hearth/pkg/protocol"
)

func hubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hub",
		Short: "Run the hub: plugin supervisor, message router, and agent worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHub(cmd.Context())
		},
	}
}

// runHub assembles and runs the whole desktop process. ctx comes from
// Execute and is cancelled on SIGINT/SIGTERM.
func runHub(ctx context.Context) error {
	dir := resolveStateDir()
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	masterKey, err := identity.LoadOrCreateMasterKey(dir)
	if err != nil {
		return err
	}
	slog.Info("hub starting", "state_dir", dir, "device_id", cfg.DeviceID)

	agentCfg, err := config.LoadAgentConfig(dir)
	if err != nil {
		return err
	}
	systemPrompt, err := config.LoadSystemPrompt(dir)
	if err != nil {
		return err
	}
	driver, err := agent.NewOpenAIDriver(agentCfg, systemPrompt)
	if err != nil {
		return err
	}

	router := bus.NewRouter()
	defer router.Close()

	sup := supervisor.New(dir, cfg.PluginPort)
	router.SetSender(sup)
	sup.SetMessageHandler(func(params json.RawMessage) error {
		return router.Receive(params)
	})

	pairingStore := pairing.NewStore(dir)
	controller := pairing.NewController(pairingStore, masterKey, cfg.Pairing.AttestationDays,
		func(event string, data map[string]any) error {
			return sup.SendEventToChannel("devices", event, data)
		})

	sup.SetEventHandler(func(channel, event string, data map[string]any) {
		switch event {
		case protocol.EventPairingRequest:
			if err := controller.HandleRequest(data); err != nil {
				slog.Error("pairing request failed", "error", err)
			}
		case protocol.EventGatewayConnected:
			url, _ := data["gateway_url"].(string)
			config.MarkConnected(dir, url)
		case protocol.EventGatewayDisconnected:
			config.MarkDisconnected(dir)
		}
	})

	worker := agent.NewWorker(router, driver)

	errCh := make(chan error, 1)
	go func() {
		if err := sup.Run(ctx); err != nil {
			errCh <- fmt.Errorf("supervisor: %w", err)
		}
	}()
	go func() {
		if err := sup.WatchChannelConfigs(ctx); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()
	go router.Run(ctx)
	go worker.Run(ctx)

	select {
	case <-ctx.Done():
		slog.Info("hub shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
