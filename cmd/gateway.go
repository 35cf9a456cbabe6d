package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawrelay/internal/agent"
	"github.com/nextlevelbuilder/clawrelay/internal/bus"
	"github.com/nextlevelbuilder/clawrelay/internal/channels"
	"github.com/nextlevelbuilder/clawrelay/internal/channels/discord"
	"github.com/nextlevelbuilder/clawrelay/internal/channels/slack"
	"github.com/nextlevelbuilder/clawrelay/internal/channels/telegram"
	"github.com/nextlevelbuilder/clawrelay/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/clawrelay/internal/config"
	"github.com/nextlevelbuilder/clawrelay/internal/gateway"
	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
	"github.com/nextlevelbuilder/clawrelay/internal/tracing"
)

const shutdownTimeout = 15 * time.Second

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the channel gateway (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
}

func runGateway(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := resolveConfigPath()
	watcher, err := config.NewWatcher(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := watcher.Current()
	if !cfg.HasAnyProvider() {
		return errors.New("no provider API key configured (set CLAWRELAY_ANTHROPIC_API_KEY or providers.* in the config)")
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	backend, err := openSessionBackend(cfg)
	if err != nil {
		return err
	}
	sessStore := sessions.NewStore(backend)
	defer sessStore.Close()

	agents, err := buildAgents(cfg, buildProviders(cfg), agent.NewTranscripts(0))
	if err != nil {
		return err
	}

	msgBus := bus.New()
	limiter := channels.NewOutboundLimiter(cfg.Gateway.OutboundPerSecond, cfg.Gateway.OutboundBurst)
	channelMgr := channels.NewManager(msgBus, limiter)
	if err := registerChannels(channelMgr, cfg, msgBus); err != nil {
		return err
	}

	proc, err := gateway.New(gateway.Options{
		Config:   watcher.Current,
		Bus:      msgBus,
		Channels: channelMgr,
		Agents:   agents,
		Sessions: sessStore,
		History:  channels.NewPendingHistory(channels.DefaultGroupHistoryLimit),
	})
	if err != nil {
		return err
	}
	sweeper, err := gateway.NewSweeper(cfg.Gateway.HistorySweepCron, cfg.Gateway.IdleTTL(), proc)
	if err != nil {
		return err
	}

	watcher.OnChange(func(next *config.Config) {
		slog.Info("config reloaded; turn settings apply from the next message",
			"agents", len(next.Agents.List))
	})

	if err := channelMgr.StartAll(ctx); err != nil {
		slog.Warn("some channels failed to start", "error", err)
	}
	slog.Info("clawrelay gateway running",
		"version", Version, "channels", channelMgr.GetEnabledChannels(), "agents", agents.IDs())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		if err := watcher.Run(gctx); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		}
		return nil
	})
	runErr := g.Wait()

	slog.Info("graceful shutdown initiated")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := channelMgr.StopAll(sctx); err != nil {
		slog.Warn("channel shutdown errors", "error", err)
	}
	slog.Info("clawrelay gateway stopped")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// registerChannels builds every enabled channel adapter.
func registerChannels(mgr *channels.Manager, cfg *config.Config, msgBus bus.MessageRouter) error {
	if c := cfg.Channels.Telegram; c.Enabled {
		ch, err := telegram.New(c, msgBus)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	if c := cfg.Channels.Discord; c.Enabled {
		ch, err := discord.New(c, msgBus)
		if err != nil {
			return fmt.Errorf("discord: %w", err)
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	if c := cfg.Channels.Slack; c.Enabled {
		ch, err := slack.New(c, msgBus)
		if err != nil {
			return fmt.Errorf("slack: %w", err)
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	if c := cfg.Channels.WhatsApp; c.Enabled {
		ch, err := whatsapp.New(c, msgBus)
		if err != nil {
			return fmt.Errorf("whatsapp: %w", err)
		}
		mgr.RegisterChannel(ch.Name(), ch)
	}
	return nil
}
