package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelworks/parley/internal/api"
	"github.com/kestrelworks/parley/internal/bus"
	"github.com/kestrelworks/parley/internal/channels"
	"github.com/kestrelworks/parley/internal/channels/discord"
	"github.com/kestrelworks/parley/internal/channels/slack"
	"github.com/kestrelworks/parley/internal/config"
	"github.com/kestrelworks/parley/internal/db"
	"github.com/kestrelworks/parley/internal/session"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sessions API server and expiry scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "parley.yaml", "path to Parley config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	store, err := session.NewStore(gormDB)
	if err != nil {
		return err
	}

	var publisher session.Publisher
	if len(cfg.NATS.Servers) > 0 {
		p, err := bus.Connect(cfg.NATS.Servers)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer p.Close()
		publisher = p
	} else {
		fmt.Fprintf(out, "No NATS servers configured; result publishing disabled\n")
	}

	channelClient, err := buildChannelClient(cfg)
	if err != nil {
		return err
	}
	if channelClient == nil {
		fmt.Fprintf(out, "No channel provider configured; outbound delivery disabled\n")
	}

	svc, err := session.NewService(session.ServiceOpts{
		Store:     store,
		Channels:  channelClient,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}

	sched, err := session.NewScheduler(session.SchedulerOpts{
		Service:  svc,
		Interval: time.Duration(cfg.Expiry.IntervalSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return api.Start(ctx, api.StartOpts{
		Service:   svc,
		Scheduler: sched,
		Port:      cfg.HTTP.Port,
		Out:       out,
	})
}

// buildChannelClient constructs the configured channel provider, or nil
// when outbound delivery is disabled.
func buildChannelClient(cfg *config.Config) (session.ChannelClient, error) {
	switch cfg.Channels.Provider {
	case "none":
		return nil, nil
	case "rest":
		return channels.NewRESTClient(channels.RESTClientOpts{
			BaseURL:     cfg.Channels.BaseURL,
			ResponseURL: cfg.Channels.ResponseURL,
		})
	case "slack":
		return slack.New(slack.Opts{BotToken: cfg.Channels.Slack.BotToken})
	case "discord":
		return discord.New(discord.Opts{BotToken: cfg.Channels.Discord.BotToken})
	}
	return nil, fmt.Errorf("unknown channel provider %q", cfg.Channels.Provider)
}
