package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/promised/agent/pkg/helper/protocol"
)

// ServiceManageHandler drives a systemd unit through systemctl.
type ServiceManageHandler struct{}

func (h *ServiceManageHandler) Handle(ctx context.Context, params *protocol.ServiceManageParams, eventCh chan<- *protocol.EventMessage) (*protocol.ServiceManageResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	beforeStatus, beforeEnabled, _, err := h.status(ctx, params.Name)
	if err != nil {
		return nil, fmt.Errorf("getting service status: %w", err)
	}

	result := &protocol.ServiceManageResult{}
	switch params.Action {
	case "reload":
		if err := h.run(ctx, "reload", params.Name); err != nil {
			return nil, err
		}
		result.Action, result.Changed = "reloaded", true
	case "restart":
		if err := h.run(ctx, "restart", params.Name); err != nil {
			return nil, err
		}
		result.Action, result.Changed = "restarted", true
	case "start":
		if beforeStatus == "active" {
			result.Action = "already_started"
		} else {
			if err := h.run(ctx, "start", params.Name); err != nil {
				return nil, err
			}
			result.Action, result.Changed = "started", true
		}
	case "stop":
		if beforeStatus == "inactive" {
			result.Action = "already_stopped"
		} else {
			if err := h.run(ctx, "stop", params.Name); err != nil {
				return nil, err
			}
			result.Action, result.Changed = "stopped", true
		}
	case "enable":
		if beforeEnabled {
			result.Action = "already_enabled"
		} else {
			if err := h.run(ctx, "enable", params.Name); err != nil {
				return nil, err
			}
			result.Action, result.Changed = "enabled", true
		}
	case "disable":
		if !beforeEnabled {
			result.Action = "already_disabled"
		} else {
			if err := h.run(ctx, "disable", params.Name); err != nil {
				return nil, err
			}
			result.Action, result.Changed = "disabled", true
		}
	default:
		return nil, fmt.Errorf("invalid action: %s", params.Action)
	}

	afterStatus, afterEnabled, afterSubState, err := h.status(ctx, params.Name)
	if err != nil {
		return nil, fmt.Errorf("getting service status after action: %w", err)
	}
	result.Status = afterStatus
	result.Enabled = afterEnabled
	result.SubState = afterSubState
	return result, nil
}

func (h *ServiceManageHandler) status(ctx context.Context, name string) (status string, enabled bool, subState string, err error) {
	statusOut, _ := exec.CommandContext(ctx, "systemctl", "is-active", name).Output()
	status = strings.TrimSpace(string(statusOut))

	enabledOut, _ := exec.CommandContext(ctx, "systemctl", "is-enabled", name).Output()
	enabled = strings.TrimSpace(string(enabledOut)) == "enabled"

	showOut, _ := exec.CommandContext(ctx, "systemctl", "show", name, "--property=SubState", "--value").Output()
	subState = strings.TrimSpace(string(showOut))
	return status, enabled, subState, nil
}

func (h *ServiceManageHandler) run(ctx context.Context, action, name string) error {
	if err := exec.CommandContext(ctx, "systemctl", action, name).Run(); err != nil {
		return fmt.Errorf("systemctl %s %s: %w", action, name, err)
	}
	return nil
}
