package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-reconciler/internal/api"
	"github.com/Veraticus/receipt-reconciler/internal/automation"
	"github.com/Veraticus/receipt-reconciler/internal/config"
	"github.com/Veraticus/receipt-reconciler/internal/mail"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the RPC server and the queue runner",
		Long: `Serve the reconciliation RPC endpoints and drain the precision search
and mail sync queues in the background until interrupted.`,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("no-runner", false, "serve RPC only, leave the queues to another instance")
	_ = viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	noRunner, _ := cmd.Flags().GetBool("no-runner")

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	var trigger automation.Trigger
	if cfg.Automation.TriggerURL != "" {
		client, err := automation.NewTriggerClient(cfg.Automation.TriggerURL, cfg.Automation.TriggerToken, cfg.Automation.TriggerTimeout)
		if err != nil {
			return err
		}
		trigger = client
	} else {
		slog.Warn("No trigger endpoint configured, every search request is queued")
	}

	dispatcher := automation.NewDispatcher(automation.DispatcherConfig{
		Workers:     cfg.Automation.DispatchWorkers,
		QueueSize:   cfg.Automation.DispatchQueue,
		TaskTimeout: time.Minute,
	})

	a, cleanup, err := openApp(ctx, trigger, dispatcher)
	if err != nil {
		dispatcher.Close()
		return err
	}
	// Queued side effects drain before the store closes.
	defer func() {
		dispatcher.Close()
		cleanup()
	}()

	// Runner setup fails before the server starts listening.
	var runner *automation.Runner
	if !noRunner {
		r, closeRunner, err := newRunner(ctx, a)
		if err != nil {
			return err
		}
		defer closeRunner()
		runner = r
	}

	server := api.New(a.engine, a.supervisor, a.store, api.Config{AllowOrigins: cfg.Server.AllowOrigins})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		return server.ListenAndServe(ctx, cfg.Server.Addr)
	})
	if runner != nil {
		p.Go(runner.Run)
	}

	slog.Info("Reconciler started",
		"addr", cfg.Server.Addr,
		"database", cfg.Database.Path,
		"runner", !noRunner,
		"version", version)
	return p.Wait()
}

// newRunner builds the queue runner with the Redis lock when configured and
// the Gmail handlers when mail credentials are present.
func newRunner(ctx context.Context, a *app) (*automation.Runner, func(), error) {
	cfg := a.cfg
	closers := []func(){}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var locker automation.Locker
	if cfg.Redis.Addr != "" {
		client, err := automation.DialRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closers = append(closers, func() { _ = client.Close() })
		locker = automation.NewRedisLocker(client, cfg.Redis.LockPrefix)
		slog.Info("Using redis run lock", "addr", cfg.Redis.Addr)
	}

	runner := automation.NewRunner(a.supervisor, locker, automation.RunnerConfig{
		PollInterval: cfg.Automation.PollInterval,
		LockTTL:      cfg.Automation.StaleAfter,
		Concurrency:  cfg.Automation.Concurrency,
	})

	if cfg.Mail.Enabled() {
		ts, err := mail.TokenSource(ctx, mail.OAuth2Config{
			ClientID:     cfg.Mail.ClientID,
			ClientSecret: cfg.Mail.ClientSecret,
			TokenFile:    cfg.Mail.TokenFile,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		mailbox, err := mail.NewGmailMailbox(ctx, ts)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		mail.NewHandlers(mailbox, a.store, mail.HandlerConfig{
			Lookback: cfg.Mail.Lookback,
			Window:   cfg.Mail.Window,
			Limit:    cfg.Mail.Limit,
		}).Register(runner)
	} else {
		slog.Warn("Mail is not configured, queue items wait until a handler is available")
	}

	return runner, closeAll, nil
}
