package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ip150-bridge/backend/internal/bridge"
	"github.com/ip150-bridge/backend/internal/config"
	"github.com/ip150-bridge/backend/internal/log"
	"github.com/ip150-bridge/backend/internal/panel"
	"github.com/ip150-bridge/backend/internal/state"
	"github.com/ip150-bridge/backend/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "ip150-bridge",
		Short: "MQTT bridge for Paradox IP150 alarm panels",
		Long: `ip150-bridge logs in to a Paradox IP150 web interface, polls the
panel for zone and area changes and mirrors them to MQTT topics.
Arm and disarm commands are accepted on the subscribe topics.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	return cmd
}

func run(configPath, logLevel string) error {
	logger := log.New(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	session := panel.New(cfg.Panel.URL,
		panel.WithLogger(logger),
		panel.WithSettleDelay(cfg.Panel.SettleDelay),
		panel.WithRequestTimeout(cfg.Panel.RequestTimeout),
	)

	broker := bridge.NewPahoBroker(cfg.MQTT, logger)

	var opts []bridge.Option
	if cfg.Server.Enabled {
		store := state.NewStore()
		broadcaster := ws.NewBroadcaster(store, logger, cfg.Server.BroadcastThrottle, cfg.Server.SnapshotInterval)
		server := ws.NewServer(store, broadcaster, logger, cfg.Server.AuthToken)

		mux := http.NewServeMux()
		server.SetupRoutes(mux)
		go func() {
			logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("status server listening")
			if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
				logger.Error().Err(err).Msg("status server stopped")
			}
		}()

		opts = append(opts, bridge.WithDeltaHook(func(d panel.Delta) {
			store.ApplyDelta(d)
			broadcaster.QueueDelta(d)
		}))
	}

	br := bridge.New(cfg, session, broker, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().Str("broker", cfg.MQTT.Address).Msg("starting bridge")
	return br.Run(ctx)
}
