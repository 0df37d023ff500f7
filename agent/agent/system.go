package agent

import (
	"context"
	"errors"
	"time"

	"github.com/tzi-shue/print-service-deploy/agent/spooler"
)

// SystemControl reboots the host and restarts the agent service.
type SystemControl interface {
	Reboot(ctx context.Context) error
	RestartService(ctx context.Context) error
}

// CommandControl implements SystemControl with systemctl. Restart, when
// set, replaces the systemctl call for RestartService (the service manager
// integration provides it).
type CommandControl struct {
	Runner      spooler.Runner
	ServiceName string
	Restart     func() error
}

func (c CommandControl) runner() spooler.Runner {
	if c.Runner == nil {
		return spooler.ExecRunner{}
	}
	return c.Runner
}

// Reboot asks systemd to reboot and falls back to the reboot command.
func (c CommandControl) Reboot(ctx context.Context) error {
	r := c.runner()
	res := r.Run(ctx, spooler.Command{Name: "systemctl", Args: []string{"reboot"}, Timeout: 30 * time.Second})
	if res.OK() {
		return nil
	}
	res = r.Run(ctx, spooler.Command{Name: "reboot", Timeout: 30 * time.Second})
	if !res.OK() {
		return errors.New(res.Message())
	}
	return nil
}

// RestartService restarts the agent's own unit.
func (c CommandControl) RestartService(ctx context.Context) error {
	if c.Restart != nil {
		return c.Restart()
	}
	if c.ServiceName == "" {
		return errors.New("service name is not configured")
	}
	res := c.runner().Run(ctx, spooler.Command{
		Name:    "systemctl",
		Args:    []string{"restart", c.ServiceName},
		Timeout: 30 * time.Second,
	})
	if !res.OK() {
		return errors.New(res.Message())
	}
	return nil
}
