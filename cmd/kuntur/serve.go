package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kuntur/kuntur/internal/config"
	"github.com/kuntur/kuntur/internal/emitter"
	"github.com/kuntur/kuntur/internal/health"
	"github.com/kuntur/kuntur/internal/kuntur"
	"github.com/kuntur/kuntur/internal/metrics"
	"github.com/kuntur/kuntur/internal/ws"
)

var (
	servePort   int
	serveCamera string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator and its HTTP/websocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if serveCamera != "" {
			cfg.Camera.URL = serveCamera
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		m := metrics.New()
		rt := kuntur.New(kuntur.Deps{Config: cfg, Logger: logger, Metrics: m})
		defer rt.Close()

		broadcaster := ws.NewBroadcaster(rt, ws.BroadcastOptions{
			Throttle:         cfg.Broadcast.Throttle,
			SnapshotInterval: cfg.Broadcast.SnapshotInterval,
			MaxConns:         cfg.Broadcast.MaxConnections,
			Logger:           logger,
			Metrics:          m,
		})
		defer broadcaster.Stop()
		rt.Observe(broadcaster)

		if cfg.MQTT.Broker != "" {
			cfg.MQTT.ClientID = mqttClientID(cfg.MQTT)
			em := emitter.New(cfg.MQTT, logger)
			if err := em.Connect(ctx); err != nil {
				logger.Warn("mqtt emitter disabled", "error", err)
				em.Close()
			} else {
				rt.Observe(em)
				defer em.Close()
			}
		}

		sampler := health.NewSampler(cfg.Health.Interval, logger)
		go sampler.Run(ctx)

		if err := rt.Start(ctx); err != nil {
			return err
		}

		srv := ws.NewServer(rt, broadcaster, ws.ServerOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AuthToken:      cfg.Server.AuthToken,
			Health:         sampler,
			Logger:         logger,
		})
		defer srv.Close()

		err = ws.ListenAndServe(ctx, cfg.Addr(), srv.Handler(), logger)
		logger.Info("shutting down")
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	serveCmd.Flags().StringVar(&serveCamera, "camera", "", "override camera.url (host:port or URL)")
	rootCmd.AddCommand(serveCmd)
}

// mqttClientID keeps a configured client id. Otherwise each instance gets
// its own so two servers on one broker do not kick each other off.
func mqttClientID(c config.MQTTConfig) string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return "kuntur-" + uuid.NewString()[:8]
}
