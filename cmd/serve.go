package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fluxserve/core"
	"fluxserve/db"
	"fluxserve/fluxruntime"
	"fluxserve/server"
	"fluxserve/shutdown"
)

const (
	historyCleanupInterval = 24 * time.Hour
	limiterCleanupInterval = 5 * time.Minute
)

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.bootstrap(cmd.OutOrStdout()); err != nil {
				return err
			}
			return a.serve(context.Background(), cmd.OutOrStdout())
		},
	}
}

// serve runs the HTTP API until a signal arrives, ctx ends or the listener
// fails, then runs the ordered shutdown.
func (a *app) serve(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	log := a.logger.Zap()

	m, err := do.Invoke[*shutdown.Manager](a.injector)
	if err != nil {
		return err
	}
	svc, err := do.Invoke[*fluxruntime.Service](a.injector)
	if err != nil {
		return err
	}
	srv, err := do.Invoke[*server.Server](a.injector)
	if err != nil {
		return err
	}

	m.Register("http", shutdown.PriorityHTTPServer, srv.Shutdown)
	m.Register("service", shutdown.PriorityService, svc.Close)

	if historyEnabled(cfg) {
		rec := do.MustInvoke[*db.Recorder](a.injector)
		database := do.MustInvoke[*db.Database](a.injector)
		m.Register("history-writer", shutdown.PriorityHistory, rec.Close)
		m.Register("history-db", shutdown.PriorityHistory+1, database.Close)

		if cfg.History.RetentionDays > 0 {
			repo := do.MustInvoke[*db.Repository](a.injector)
			repo.StartCleanupScheduler(m.Context(), log.Named("history"), cfg.History.RetentionDays, historyCleanupInterval)
		}
	}

	if cfg.Engine.OutputTTL > 0 {
		sweeper := shutdown.NewOutputSweeper(log.Named("sweeper"), cfg.Engine.OutputDir, cfg.Engine.OutputTTL)
		go sweeper.Run(m.Context())
		m.Register("sweeper", shutdown.PrioritySweeper, sweeper.Stop)
	}
	m.Register("outputs", shutdown.PriorityOutputs, shutdown.CleanupOutputs(log, cfg.Engine.OutputDir))
	if a.ownsOutputDir {
		m.Register("output-dir", shutdown.PriorityOutputs+1, shutdown.RemoveOutputDir(log, cfg.Engine.OutputDir))
	}
	m.Register("logger", shutdown.PriorityLogger, func(context.Context) error { return a.logger.Sync() })

	srv.StartLimiterCleanup(m.Context(), limiterCleanupInterval)
	m.Start()

	go func() {
		select {
		case <-ctx.Done():
			m.Trigger()
		case <-m.Context().Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	printBanner(out, cfg)
	log.Info("fluxserve started", zap.String("version", core.GetVersion()), zap.String("config", cfg.String()))

	var serveErr error
	select {
	case <-m.Context().Done():
	case serveErr = <-errCh:
		if serveErr != nil {
			log.Error("http server failed", zap.Error(serveErr))
		}
	}

	shutdownErr := m.Shutdown()
	a.exitCode = m.ExitCode()
	return errors.Join(serveErr, shutdownErr)
}

func printBanner(w io.Writer, cfg *core.Config) {
	bold := color.New(color.FgCyan, color.Bold)
	bold.Fprintf(w, "fluxserve %s\n", core.GetVersion())
	fmt.Fprintf(w, "  listening  http://%s\n", cfg.Address())
	fmt.Fprintf(w, "  backend    %s (%s)\n", cfg.Engine.Backend, cfg.Engine.ModelDir)
	fmt.Fprintf(w, "  outputs    %s\n", cfg.Engine.OutputDir)
	if cfg.Server.APIKeyHash == "" {
		color.New(color.FgYellow).Fprintln(w, "  auth       off (set FLUX_API_KEY_HASH to require a key)")
	}
}
