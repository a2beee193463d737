// Package cmd is the fluxserve command line: serve, generate, service
// control, hash-key and version.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/samber/do"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fluxserve/core"
	"fluxserve/logging"
)

// app carries state shared by the subcommands of one invocation.
type app struct {
	envFile string

	cfg      *core.Config
	logger   *logging.Logger
	injector *do.Injector
	exitCode int

	// ownsOutputDir is set when the output dir was created for this run.
	ownsOutputDir bool
}

// bootstrap loads configuration, builds the logger (console output to
// console) and the injector. Later calls are no-ops.
func (a *app) bootstrap(console io.Writer) error {
	if a.injector != nil {
		return nil
	}
	cfg, err := core.LoadConfig(a.envFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       logging.ParseLevel(cfg.Log.Level, zapcore.InfoLevel),
		Development: cfg.Log.DevMode,
		FilePath:    cfg.Log.File,
		Console:     zapcore.Lock(zapcore.AddSync(console)),
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	owned, err := cfg.PrepareOutputDir()
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.ownsOutputDir = owned
	a.logger = logger
	a.injector = newInjector(cfg, logger)
	logger.Debug("configuration loaded",
		zap.String("config", cfg.String()),
		zap.String("config_file", cfg.ConfigFile),
	)
	return nil
}

func newRootCommand() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "fluxserve",
		Short:         "Serve FLUX image generation from a resident engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "environment file to load (default .env if present)")

	root.AddCommand(
		newServeCommand(a),
		newGenerateCommand(a),
		newServiceCommand(a),
		newHashKeyCommand(),
		newVersionCommand(),
	)
	return root, a
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	root, a := newRootCommand()
	return run(root, a, os.Stderr)
}

func run(root *cobra.Command, a *app, stderr io.Writer) int {
	err := root.Execute()
	if err == nil {
		return a.exitCode
	}

	red := color.New(color.FgRed, color.Bold)
	if ce, ok := core.IsConfigError(err); ok {
		red.Fprintf(stderr, "Configuration error [%s]: ", ce.Code)
		fmt.Fprintln(stderr, ce.Message)
		if ce.Action != "" {
			color.New(color.FgYellow).Fprintf(stderr, "  → %s\n", ce.Action)
		}
	} else {
		red.Fprint(stderr, "Error: ")
		fmt.Fprintln(stderr, err)
	}
	return core.ExitCodeFor(err)
}
