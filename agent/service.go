package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/kardianos/service"

	"github.com/tzi-shue/print-service-deploy/common/config"
)

const serviceName = "websocket-printer"

// program implements service.Interface
type program struct {
	configPath string
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	svcLogger  service.Logger
}

func (p *program) Start(s service.Service) error {
	p.svcLogger, _ = s.Logger(nil)
	if p.svcLogger != nil {
		p.svcLogger.Info("Print agent service starting")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan struct{})

	go p.run()
	return nil
}

func (p *program) run() {
	defer close(p.done)

	if err := runAgent(p.ctx, p.configPath, true); err != nil && p.svcLogger != nil {
		p.svcLogger.Error(fmt.Sprintf("Print agent stopped: %v", err))
	}
}

func (p *program) Stop(s service.Service) error {
	if p.svcLogger != nil {
		p.svcLogger.Info("Print agent service stop requested")
	}

	if p.cancel != nil {
		p.cancel()
	}

	select {
	case <-p.done:
		if p.svcLogger != nil {
			p.svcLogger.Info("Print agent service stopped gracefully")
		}
	case <-time.After(30 * time.Second):
		if p.svcLogger != nil {
			p.svcLogger.Warning("Print agent service stopped with timeout")
		}
	}
	return nil
}

// getServiceConfig returns the systemd unit description for the agent.
func getServiceConfig(name, configPath string) *service.Config {
	if name == "" {
		name = serviceName
	}
	args := []string{"--service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &service.Config{
		Name:             name,
		DisplayName:      "WebSocket Printer Agent",
		Description:      "Connects local CUPS printers to the print dispatch server.",
		WorkingDirectory: "/var/lib/" + config.AppName,
		Arguments:        args,
		Dependencies:     []string{"After=network-online.target cups.service", "Wants=network-online.target"},
		Option: service.KeyValue{
			"Restart":           "on-failure",
			"RestartSec":        5,
			"SuccessExitStatus": "0 SIGTERM",
			"KillMode":          "mixed",
			"KillSignal":        "SIGTERM",
			"SendSIGKILL":       true,
		},
	}
}

// setupServiceDirectories creates the directories the unit writes to.
func setupServiceDirectories() error {
	dirs := []string{
		"/var/lib/" + config.AppName,
		"/var/log/" + config.AppName,
		"/etc/" + config.AppName,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// handleServiceCommand processes install/uninstall/start/stop/restart/run.
func handleServiceCommand(cmd, configPath string) error {
	name := serviceName
	if cfg, err := LoadAgentConfig(configPath); err == nil && cfg.Service.Name != "" {
		name = cfg.Service.Name
	}

	prg := &program{configPath: configPath}
	s, err := service.New(prg, getServiceConfig(name, configPath))
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	switch cmd {
	case "install":
		if status, _ := s.Status(); status != service.StatusUnknown {
			fmt.Println("Service already exists, removing first...")
			if status == service.StatusRunning {
				_ = s.Stop()
				time.Sleep(2 * time.Second)
			}
			if err := s.Uninstall(); err != nil {
				return fmt.Errorf("failed to remove existing service: %w", err)
			}
		}
		if err := setupServiceDirectories(); err != nil {
			return err
		}
		if err := s.Install(); err != nil {
			return fmt.Errorf("failed to install service: %w", err)
		}
		fmt.Printf("Service %s installed\n", name)
	case "uninstall":
		if status, _ := s.Status(); status == service.StatusRunning {
			_ = s.Stop()
		}
		if err := s.Uninstall(); err != nil {
			return fmt.Errorf("failed to uninstall service: %w", err)
		}
		fmt.Printf("Service %s removed\n", name)
	case "start":
		if err := s.Start(); err != nil {
			return fmt.Errorf("failed to start service: %w", err)
		}
		fmt.Printf("Service %s started\n", name)
	case "stop":
		if err := s.Stop(); err != nil {
			return fmt.Errorf("failed to stop service: %w", err)
		}
		fmt.Printf("Service %s stopped\n", name)
	case "restart":
		if err := s.Restart(); err != nil {
			return fmt.Errorf("failed to restart service: %w", err)
		}
		fmt.Printf("Service %s restarted\n", name)
	case "run":
		return s.Run()
	default:
		return fmt.Errorf("unknown service command %q (install, uninstall, start, stop, restart, run)", cmd)
	}
	return nil
}

// serviceRestarter restarts the agent's unit through the service manager.
// Outside a service manager it reports an error so callers can fall back.
func serviceRestarter(name, configPath string) func() error {
	return func() error {
		if service.Interactive() {
			return fmt.Errorf("not running under a service manager")
		}
		s, err := service.New(&program{configPath: configPath}, getServiceConfig(name, configPath))
		if err != nil {
			return err
		}
		return s.Restart()
	}
}
