package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

const serviceName = "fluxserve"

// program adapts serve to the service manager's Start/Stop lifecycle.
type program struct {
	a      *app
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	if err := p.a.bootstrap(os.Stdout); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- p.a.serve(ctx, os.Stdout) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	timeout := 30 * time.Second
	if p.a.cfg != nil {
		timeout = p.a.cfg.Server.ShutdownTimeout + 5*time.Second
	}
	select {
	case err := <-p.done:
		return err
	case <-time.After(timeout):
		return errors.New("timed out waiting for fluxserve to stop")
	}
}

// serviceConfig registers `fluxserve service run` with an absolute env
// file path and the current directory as working directory.
func serviceConfig(envFile string) (*service.Config, error) {
	args := []string{"service", "run"}
	if envFile != "" {
		abs, err := filepath.Abs(envFile)
		if err != nil {
			return nil, err
		}
		args = append(args, "--env-file", abs)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return &service.Config{
		Name:             serviceName,
		DisplayName:      "FLUX image server",
		Description:      "Keeps a FLUX engine resident and serves image generation over HTTP.",
		Arguments:        args,
		WorkingDirectory: wd,
		Option: service.KeyValue{
			"StartType": "automatic",
			"Restart":   "on-failure",
		},
	}, nil
}

func newService(a *app) (service.Service, error) {
	cfg, err := serviceConfig(a.envFile)
	if err != nil {
		return nil, err
	}
	s, err := service.New(&program{a: a}, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

func newServiceCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control fluxserve as an OS service",
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the %s service", action, serviceName),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService(a)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(a)
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return fmt.Errorf("service status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusName(st, err))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newService(a)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusName(st service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
