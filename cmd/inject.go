package cmd

import (
	"context"
	"fmt"

	"github.com/samber/do"

	"fluxserve/core"
	"fluxserve/db"
	"fluxserve/fluxruntime"
	"fluxserve/logging"
	"fluxserve/server"
	"fluxserve/shutdown"
)

// newInjector registers lazy providers for every component. Nothing is
// built until a command invokes it.
func newInjector(cfg *core.Config, logger *logging.Logger) *do.Injector {
	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		},
	})

	do.ProvideValue[*core.Config](injector, cfg)
	do.ProvideValue[*logging.Logger](injector, logger)

	do.Provide[fluxruntime.Backend](injector, func(i *do.Injector) (fluxruntime.Backend, error) {
		return fluxruntime.NewBackend(cfg.Engine.Backend, cfg.BackendOptions())
	})
	do.Provide[*fluxruntime.SessionManager](injector, func(i *do.Injector) (*fluxruntime.SessionManager, error) {
		backend, err := do.Invoke[fluxruntime.Backend](i)
		if err != nil {
			return nil, err
		}
		return fluxruntime.NewSessionManager(backend, logger.Named("session").Zap()), nil
	})
	do.Provide[*fluxruntime.OutputNamer](injector, func(i *do.Injector) (*fluxruntime.OutputNamer, error) {
		return fluxruntime.NewOutputNamer(cfg.Engine.OutputDir), nil
	})
	do.Provide[*fluxruntime.Executor](injector, func(i *do.Injector) (*fluxruntime.Executor, error) {
		session, err := do.Invoke[*fluxruntime.SessionManager](i)
		if err != nil {
			return nil, err
		}
		namer, err := do.Invoke[*fluxruntime.OutputNamer](i)
		if err != nil {
			return nil, err
		}
		return fluxruntime.NewExecutor(session, namer, logger.Named("executor").Zap()), nil
	})
	do.Provide[*fluxruntime.Service](injector, func(i *do.Injector) (*fluxruntime.Service, error) {
		exec, err := do.Invoke[*fluxruntime.Executor](i)
		if err != nil {
			return nil, err
		}
		var recorder fluxruntime.Recorder
		if historyEnabled(cfg) {
			rec, err := do.Invoke[*db.Recorder](i)
			if err != nil {
				return nil, err
			}
			recorder = rec
		}
		return fluxruntime.NewService(exec, logger.Named("service").Zap(), recorder), nil
	})

	do.Provide[*db.Database](injector, func(i *do.Injector) (*db.Database, error) {
		return db.Open(context.Background(), cfg.History.DBPath)
	})
	do.Provide[*db.Repository](injector, func(i *do.Injector) (*db.Repository, error) {
		d, err := do.Invoke[*db.Database](i)
		if err != nil {
			return nil, err
		}
		return db.NewRepository(d), nil
	})
	do.Provide[*db.Recorder](injector, func(i *do.Injector) (*db.Recorder, error) {
		repo, err := do.Invoke[*db.Repository](i)
		if err != nil {
			return nil, err
		}
		return db.NewRecorder(repo, logger.Zap()), nil
	})

	do.Provide[*shutdown.Manager](injector, func(i *do.Injector) (*shutdown.Manager, error) {
		return shutdown.NewManager(logger.Named("shutdown").Zap(), shutdown.WithTimeout(cfg.Server.ShutdownTimeout)), nil
	})
	do.Provide[*server.Server](injector, func(i *do.Injector) (*server.Server, error) {
		svc, err := do.Invoke[*fluxruntime.Service](i)
		if err != nil {
			return nil, err
		}
		var history server.History
		if historyEnabled(cfg) {
			repo, err := do.Invoke[*db.Repository](i)
			if err != nil {
				return nil, err
			}
			history = repo
		}
		m := do.MustInvoke[*shutdown.Manager](i)
		return server.New(serverConfig(cfg), svc, history, m.Tracker(), logger.Named("http").Zap())
	})

	return injector
}

func historyEnabled(cfg *core.Config) bool {
	return cfg.History.DBPath != ""
}

func serverConfig(cfg *core.Config) server.Config {
	sc := server.DefaultConfig()
	sc.Addr = cfg.Address()
	sc.APIKeyHash = cfg.Server.APIKeyHash
	sc.CORSOrigins = cfg.Server.CORSOrigins
	sc.Defaults = cfg.DefaultRequest("")
	return sc
}
