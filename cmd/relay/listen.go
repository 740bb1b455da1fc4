package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"salesops-relay/internal/auth"
	"salesops-relay/internal/health"
	"salesops-relay/internal/notify"
	"salesops-relay/internal/server"
	"salesops-relay/internal/surface/tui"
	"salesops-relay/internal/verification/channel"
	"salesops-relay/internal/verification/session"
	"salesops-relay/internal/verification/submit"
)

const healthInterval = 15 * time.Second

var (
	listenHeadless bool
	listenRearm    bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to the notification socket and prompt for verification codes",
	Long: `Connect to the notification socket and wait for verification requests.

By default a terminal prompt is shown. With --headless the prompt is logged and codes are read
from stdin, one per line; a line "close" dismisses the prompt and "r" reconnects a dropped socket.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func init() {
	listenCmd.Flags().BoolVar(&listenHeadless, "headless", false, "read codes from stdin instead of showing the terminal prompt")
	listenCmd.Flags().BoolVar(&listenRearm, "rearm", false, "headless: reconnect after each prompt ends")
}

// channelStateHandler logs socket state and forwards it to the status sinks (health service,
// terminal status line). A dropped socket is routine and never goes through the notifier.
func channelStateHandler(logger *zap.Logger, sinks ...func(bool)) func(bool) {
	return func(connected bool) {
		logger.Info("channel state changed", zap.Bool("connected", connected))
		for _, sink := range sinks {
			sink(connected)
		}
	}
}

// disconnectFunc adapts a function to session.Disconnector.
type disconnectFunc func()

func (f disconnectFunc) Disconnect() { f() }

func runListen(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadEnv(logFile)
	if err != nil {
		return err
	}
	if !listenHeadless && logFile == "" {
		// The terminal prompt owns the screen.
		logger = zap.NewNop()
	}

	if err := checkAPIToken(cfg.APIToken, cfg.Countdown(), logger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	var (
		feed     *tui.Feed
		notes    *notify.Channel
		console  *headless
		surface  notify.Notifier
	)
	if listenHeadless {
		console = newHeadless(os.Stdin, cmd.OutOrStdout(), listenRearm, logger)
		surface = notify.NotifierFunc(console.Notify)
	} else {
		feed = tui.NewFeed(64)
		notes = notify.NewChannel(16, logger)
		surface = notes
	}
	notifier := a.notifier(surface)

	var checker *health.Checker
	if cfg.HealthAddr != "" {
		var pinger health.Pinger
		if a.db != nil {
			pinger = a.db
		}
		checker = health.NewChecker(pinger, a.policy, logger)
		srv := server.NewServer(server.Deps{Health: checker, Logger: logger})
		go checker.Run(ctx, healthInterval)
		go func() {
			if err := server.Serve(ctx, cfg.HealthAddr, srv, logger); err != nil {
				logger.Error("health server stopped", zap.Error(err))
			}
		}()
	}

	sub := a.submitter(submit.NewClient(cfg.APIURL, cfg.APIToken, cfg.SubmitTimeoutDuration()), notifier)

	observers := a.observers()
	if feed != nil {
		observers = append(observers, feed.Observe)
	}
	if console != nil {
		observers = append(observers, console.Observe)
	}

	var stateSinks []func(bool)
	if checker != nil {
		stateSinks = append(stateSinks, checker.SetChannel)
	}
	if feed != nil {
		stateSinks = append(stateSinks, feed.SetConnected)
	}

	var ch *channel.Channel
	machine := session.NewMachine(session.Deps{
		Submitter: sub,
		Channel:   disconnectFunc(func() { ch.Disconnect() }),
		Observers: observers,
		Countdown: cfg.CountdownSeconds,
		Logger:    logger,
	})
	ch = channel.New(channel.Options{
		BaseURL:      cfg.WSURL,
		Token:        cfg.APIToken,
		PingInterval: cfg.PingInterval(),
		Logger:       logger,
		OnState:      channelStateHandler(logger, stateSinks...),
	}, machine)

	defer func() {
		machine.Stop()
		ch.Disconnect()
		sub.Wait()
	}()

	connectErr := ch.Connect(ctx)
	if connectErr != nil {
		logger.Warn("listen: initial connect failed", zap.String("endpoint", ch.Endpoint()), zap.Error(connectErr))
	}

	if console != nil {
		if connectErr != nil {
			return connectErr
		}
		return console.Run(ctx, machine, ch)
	}
	m := tui.NewModel(ctx, machine, ch, feed, notes.C())
	if err := tui.Run(ctx, m); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// checkAPIToken rejects an expired token and warns when it will expire before a prompt could
// finish. Tokens that are not JWTs are passed to the backend unchecked.
func checkAPIToken(token string, window time.Duration, logger *zap.Logger) error {
	if token == "" {
		logger.Warn("listen: RELAY_API_TOKEN is empty; the backend may reject the socket")
		return nil
	}
	info, soon, err := auth.CheckToken(token, time.Now(), window)
	switch {
	case errors.Is(err, auth.ErrExpired):
		return fmt.Errorf("RELAY_API_TOKEN: %w", err)
	case err != nil:
		logger.Warn("listen: API token is not a JWT, skipping expiry check", zap.Error(err))
	case soon:
		logger.Warn("listen: API token expires soon",
			zap.String("subject", info.Subject),
			zap.Time("expires_at", info.ExpiresAt))
	}
	return nil
}
