// Package commands implements the CLI subcommands for the banksia binary.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banksia-harness/banksia/internal/action"
	"github.com/banksia-harness/banksia/internal/admin"
	"github.com/banksia-harness/banksia/internal/check"
	"github.com/banksia-harness/banksia/internal/config"
	"github.com/banksia-harness/banksia/internal/effects"
	"github.com/banksia-harness/banksia/internal/engine"
	"github.com/banksia-harness/banksia/internal/procedure"
	"github.com/banksia-harness/banksia/internal/proxy"
	"github.com/banksia-harness/banksia/internal/report"
	"github.com/banksia-harness/banksia/internal/runner"
	"github.com/banksia-harness/banksia/internal/server"
	"github.com/banksia-harness/banksia/internal/server/handlers"
	"github.com/banksia-harness/banksia/internal/store/postgres"
	"github.com/banksia-harness/banksia/internal/timeline"
	"github.com/banksia-harness/banksia/internal/variable"
	"github.com/banksia-harness/banksia/pkg/types"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the harness server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the configuration file")
	return cmd
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.Default()

	tickInterval, err := config.TickInterval(cfg)
	if err != nil {
		return err
	}
	queryTimeout, err := config.QueryTimeout(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()

	st, err := postgres.New(ctx, cfg.Database.DSN, queryTimeout, logger)
	if err != nil {
		return fmt.Errorf("connecting to reference database: %w", err)
	}
	defer st.Close()

	adminClient, err := admin.New(cfg.ReferenceServer.AdminURL, cfg.ReferenceServer.AdminAPIKey, logger)
	if err != nil {
		return fmt.Errorf("creating admin client: %w", err)
	}

	registry, err := procedure.LoadDirs(cfg.ProcedureDirs, logger)
	if err != nil {
		return fmt.Errorf("loading test procedures: %w", err)
	}
	logger.Info("test procedures loaded", "count", registry.Len())

	resolver := variable.New()
	checks := check.NewEngine(logger)
	effects.RegisterChecks(checks, logger)
	actions := action.NewEngine(logger)
	builder := report.New(checks, timeline.New(logger), resolver, logger)
	effects.RegisterActions(actions, adminClient, builder, logger)

	if err := verifyVocabulary(actions, checks); err != nil {
		return err
	}

	state := runner.NewState()
	state.Lock()
	state.RecordInteraction(types.InteractionRunnerStart, time.Now().UTC())
	state.Unlock()

	eng := engine.New(state, st, actions, checks, resolver, tickInterval, logger)

	px, err := proxy.New(cfg.ReferenceServer.URL, eng, state, cfg.SkipAuthorization, logger)
	if err != nil {
		return fmt.Errorf("creating proxy: %w", err)
	}
	if cfg.SkipAuthorization {
		logger.Warn("client certificate authorization is disabled")
	}

	h := handlers.New(state, st, registry, actions, checks, resolver, builder, logger)
	srv := server.New(cfg.Server.Addr, cfg.Server.MaxRequestBody, h, px, logger)

	tickCtx, stopTicks := context.WithCancel(ctx)
	defer stopTicks()
	go eng.Run(tickCtx)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		color.Yellow("\nReceived %s, shutting down...", sig)
		stopTicks()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		color.Green("Server stopped gracefully")
		return nil
	}
}

// verifyVocabulary confirms every known action and check type has a handler
// before any procedure can reference one at runtime.
func verifyVocabulary(actions *action.Engine, checks *check.Engine) error {
	if missing := actions.MissingHandlers(); len(missing) > 0 {
		return fmt.Errorf("action types without handlers: %v", missing)
	}
	for _, t := range types.AllCheckTypes {
		if !checks.Registered(t) {
			return fmt.Errorf("check type without handler: %s", t)
		}
	}
	return nil
}
