package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/momhq/mom/internal/config"
	"github.com/momhq/mom/internal/events"
	"github.com/momhq/mom/internal/logstore"
	"github.com/momhq/mom/internal/providers"
	"github.com/momhq/mom/internal/sandbox"
	"github.com/momhq/mom/internal/slackchat"
	"github.com/momhq/mom/internal/supervisor"
	"github.com/momhq/mom/internal/telemetry"
)

// missingEnvError marks a startup failure from a required environment
// variable being unset — exit code 1 (spec §6).
type missingEnvError struct{ msg string }

func (e *missingEnvError) Error() string { return e.msg }

// invalidSandboxError marks a malformed --sandbox target — exit code 2.
type invalidSandboxError struct{ msg string }

func (e *invalidSandboxError) Error() string { return e.msg }

func isMissingEnvErr(err error) bool {
	var e *missingEnvError
	return errors.As(err, &e)
}

func isInvalidSandboxErr(err error) bool {
	var e *invalidSandboxError
	return errors.As(err, &e)
}

func runMom(ctx context.Context, workspaceArg string) error {
	setupLogging()

	workspace, err := filepath.Abs(config.ExpandHome(workspaceArg))
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(workspace, "events"), 0o755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Workspace = workspace

	if err := checkRequiredEnv(cfg); err != nil {
		return err
	}

	newExecutor, err := parseSandboxFlag(sandboxFlag, workspace)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without tracing", "error", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutCtx)
	}()

	provider := providers.NewAnthropicProviderFromCredential(providers.Credential{
		APIKey:     cfg.Anthropic.APIKey,
		OAuthToken: cfg.Anthropic.OAuthToken,
		BaseURL:    cfg.Anthropic.BaseURL,
	}, cfg.Agent.Model)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listener and Supervisor each need the other: the Supervisor posts
	// through the Listener's Slack transport, and the Listener dispatches
	// inbound events to the Supervisor. dispatcherProxy breaks the cycle by
	// deferring the Supervisor lookup until the first event actually
	// arrives, by which point both are constructed.
	proxy := &dispatcherProxy{}
	listener := slackchat.NewListener(cfg.Slack.BotToken, cfg.Slack.AppToken, cfg.Slack.Debug, workspace, proxy)

	sup := supervisor.New(supervisor.Config{
		Workspace:            workspace,
		SandboxKind:          sandboxFlag,
		Provider:             provider,
		Model:                cfg.Agent.Model,
		MaxToolIterations:    cfg.Agent.MaxToolIterations,
		ContextWindow:        cfg.Agent.ContextWindow,
		MaxInputChars:        cfg.Agent.MaxInputChars,
		RecentMessagesWindow: cfg.Agent.RecentMessagesWindow,
		Transport:            listener.Transport(),
		NewExecutor:          newExecutor,
	})
	proxy.sup = sup

	scheduler := events.New(workspace, sup)

	slog.Info("mom starting", "workspace", workspace, "sandbox", sandboxFlag, "model", cfg.Agent.Model, "config_hash", cfg.Hash())

	go scheduler.Run(runCtx, time.Duration(cfg.Events.PollIntervalSec)*time.Second)

	if err := listener.Run(runCtx); err != nil && runCtx.Err() == nil {
		slog.Error("slack socket mode connection ended", "error", err)
	}

	slog.Info("mom shutting down")
	return nil
}

// dispatcherProxy satisfies slackchat.Dispatcher before the Supervisor it
// forwards to has been constructed.
type dispatcherProxy struct {
	sup *supervisor.Supervisor
}

func (d *dispatcherProxy) HandleMessage(ctx context.Context, channelID string, entry logstore.LogEntry) error {
	return d.sup.HandleMessage(ctx, channelID, entry)
}

func (d *dispatcherProxy) Stop(ctx context.Context, channelID string) error {
	return d.sup.Stop(ctx, channelID)
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func checkRequiredEnv(cfg *config.Config) error {
	if cfg.Slack.AppToken == "" {
		return &missingEnvError{"MOM_SLACK_APP_TOKEN is required"}
	}
	if cfg.Slack.BotToken == "" {
		return &missingEnvError{"MOM_SLACK_BOT_TOKEN is required"}
	}
	hasAPIKey := cfg.Anthropic.APIKey != ""
	hasOAuth := cfg.Anthropic.OAuthToken != ""
	if hasAPIKey == hasOAuth {
		return &missingEnvError{"exactly one of ANTHROPIC_API_KEY or ANTHROPIC_OAUTH_TOKEN is required"}
	}
	return nil
}

func parseSandboxFlag(flag, workspace string) (func(channelID string) (sandbox.Executor, error), error) {
	if flag == "" || flag == string(sandbox.KindHost) {
		return func(string) (sandbox.Executor, error) { return sandbox.NewHostExecutor(), nil }, nil
	}
	if strings.HasPrefix(flag, "docker:") {
		container := strings.TrimPrefix(flag, "docker:")
		if container == "" {
			return nil, &invalidSandboxError{fmt.Sprintf("invalid sandbox target %q: missing container name", flag)}
		}
		return func(channelID string) (sandbox.Executor, error) {
			hostRoot := filepath.Join(workspace, channelID)
			ex := sandbox.NewDockerExecutor(container, hostRoot)
			if err := ex.Validate(context.Background()); err != nil {
				return nil, fmt.Errorf("sandbox container %q not reachable: %w", container, err)
			}
			return ex, nil
		}, nil
	}
	return nil, &invalidSandboxError{fmt.Sprintf("invalid sandbox target %q: want \"host\" or \"docker:<name>\"", flag)}
}
