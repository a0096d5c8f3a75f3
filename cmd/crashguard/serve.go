package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/crashguard/internal/client"
	"github.com/t77yq/crashguard/internal/config"
	"github.com/t77yq/crashguard/internal/emergency"
	"github.com/t77yq/crashguard/internal/monitor"
	"github.com/t77yq/crashguard/internal/notifier"
	"github.com/t77yq/crashguard/internal/server"
	"github.com/t77yq/crashguard/internal/service"
	"github.com/t77yq/crashguard/internal/storage"
	"github.com/t77yq/crashguard/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(v *viper.Viper, load loadFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the risk endpoint, raise alerts and serve the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
	bindServeFlags(v, cmd)
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting crashguard",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.Duration("poll_interval", cfg.Poller.Interval))

	store := storage.NewMemoryAlertStore(logger)

	// Event bus
	var events *service.EventService
	if cfg.NATS.Enabled {
		nc, js, err := service.Connect(service.NATSConfig{
			Name:           cfg.App.Name,
			URL:            cfg.NATS.URL,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectTimeout: cfg.NATS.ConnectTimeout,
			ConnectRetries: cfg.NATS.ConnectRetries,
		}, logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		events = service.NewEventService(js, logger)
		if err := events.EnsureStream(ctx); err != nil {
			return err
		}
		go events.Run(ctx)
		store.Subscribe(events.OnAlertChange)
	}

	// Notification channels
	format := notifier.Format{
		TitlePrefix: cfg.Notifier.TitlePrefix,
		Icon:        cfg.Notifier.Icon,
		Badge:       cfg.Notifier.Badge,
	}
	tone := notifier.Tone{
		FrequencyHz: cfg.Notifier.Tone.FrequencyHz,
		Pulse:       cfg.Notifier.Tone.Pulse,
		Gap:         cfg.Notifier.Tone.Gap,
		Pulses:      cfg.Notifier.Tone.Pulses,
	}
	var bus notifier.EventPublisher
	if events != nil {
		bus = events
	}
	channels := newChannels(cfg.Notifier, terminalIO{
		out:         os.Stdout,
		in:          os.Stdin,
		interactive: notifier.IsTerminal(os.Stdout),
	}, bus, logger)

	dispatcher := notifier.NewDispatcher(channels.user, format, tone, logger,
		notifier.WithRecorders(channels.recorders...))
	store.Subscribe(dispatcher.OnChange)

	// Risk pipeline
	riskClient := client.NewCrashGuardClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, logger)
	poller := monitor.NewPoller(riskClient, monitor.NewDeriver(), store, cfg.Poller.Interval, logger)

	// Emergency escalation
	caller := emergency.NewSimulatedCaller(channels.all(), format, cfg.Emergency.CallDelay, logger)
	escalator := emergency.NewEscalator(emergency.Config{
		CountdownSeconds: cfg.Emergency.CountdownSeconds,
		TickInterval:     cfg.Emergency.TickInterval,
	}, caller, logger)
	defer escalator.Close()
	if cfg.Emergency.AutoActivateOnDanger {
		store.Subscribe(escalator.AutoActivate(poller.LatestGlucose))
	}
	if events != nil {
		escalator.Subscribe(events.OnEmergencyChange)
	}

	// Live stream
	hub := stream.NewHub(logger)
	store.Subscribe(hub.OnAlertChange)
	escalator.Subscribe(hub.OnEmergencyChange)

	var publisher monitor.Publisher
	if events != nil {
		publisher = events
	}
	status := monitor.NewStatusReporter(publisher, store, poller, escalator.State, cfg.Status.Interval, logger)

	go hub.Run(ctx)
	go dispatcher.Run(ctx)

	if err := poller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}
	defer poller.Stop()

	if err := status.Start(ctx); err != nil {
		return fmt.Errorf("failed to start status reporter: %w", err)
	}
	defer status.Stop()

	handler := server.NewHandler(store, poller, escalator, status, hub, logger)
	srv := server.New(cfg.Server.Addr, handler, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}

	logger.Info("Server shutting down gracefully")
	return nil
}

// terminalIO is the terminal the user-facing channel writes to and reads
// consent from
type terminalIO struct {
	out         io.Writer
	in          io.Reader
	interactive bool
}

// channels splits notification delivery into the user-facing channels,
// which are gated on the user's permission, and the recorders that see
// every alert
type channels struct {
	user      *notifier.MultiNotifier
	recorders []notifier.Notifier
}

// all delivers to the user-facing channels the user allowed and to every
// recorder
func (c channels) all() notifier.Notifier {
	return notifier.NewMultiNotifier(append([]notifier.Notifier{c.user}, c.recorders...)...)
}

func newChannels(cfg config.NotifierConfig, term terminalIO, bus notifier.EventPublisher, logger *zap.Logger) channels {
	var user []notifier.Notifier
	if cfg.Terminal {
		user = append(user, notifier.NewTerminalNotifier(term.out,
			notifier.WithInteractive(term.interactive),
			notifier.WithConsent(term.in, notifier.Permission(cfg.Permission))))
	}
	if len(cfg.Webhook.URLs) > 0 {
		user = append(user, notifier.NewWebhookNotifier(cfg.Webhook.URLs, cfg.Webhook.Timeout, logger))
	}

	recorders := []notifier.Notifier{notifier.NewLogNotifier(logger)}
	if bus != nil {
		recorders = append(recorders, notifier.NewNATSNotifier(bus))
	}

	return channels{
		user:      notifier.NewMultiNotifier(user...),
		recorders: recorders,
	}
}
