package handlers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/promised/agent/pkg/helper/protocol"
)

// SudoersEnsureHandler manages a per-user drop-in file under
// /etc/sudoers.d, validated with visudo before it takes effect.
type SudoersEnsureHandler struct{}

func (h *SudoersEnsureHandler) Handle(ctx context.Context, params *protocol.SudoersEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.SudoersEnsureResult, error) {
	if params.User == "" {
		return nil, fmt.Errorf("user is required")
	}

	filePath := filepath.Join("/etc/sudoers.d", fmt.Sprintf("promised-%s", params.User))
	result := &protocol.SudoersEnsureResult{FilePath: filePath}

	_, statErr := os.Stat(filePath)
	fileExists := statErr == nil

	switch params.State {
	case "present":
		rule := buildSudoersRule(params.User, params.Commands, params.NoPasswd)

		if fileExists {
			existing, err := os.ReadFile(filePath)
			if err != nil {
				return nil, fmt.Errorf("reading existing sudoers file: %w", err)
			}
			if string(existing) == rule {
				result.Action = "already_present"
				return result, nil
			}
			result.Action = "updated"
		} else {
			result.Action = "created"
		}

		if err := os.WriteFile(filePath, []byte(rule), 0440); err != nil {
			return nil, fmt.Errorf("writing sudoers file: %w", err)
		}
		if err := validateSudoers(ctx, filePath); err != nil {
			os.Remove(filePath)
			return nil, fmt.Errorf("invalid sudoers syntax: %w", err)
		}
		result.Changed = true

	case "absent":
		if !fileExists {
			result.Action = "already_absent"
		} else {
			if err := os.Remove(filePath); err != nil {
				return nil, fmt.Errorf("removing sudoers file: %w", err)
			}
			result.Changed = true
			result.Action = "removed"
		}

	default:
		return nil, fmt.Errorf("invalid state: %s", params.State)
	}

	return result, nil
}

func buildSudoersRule(user string, commands []string, noPasswd bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Managed by promised-helper\n")
	fmt.Fprintf(&b, "# User: %s\n", user)

	passwd := "PASSWD"
	if noPasswd {
		passwd = "NOPASSWD"
	}
	if len(commands) == 0 {
		fmt.Fprintf(&b, "%s ALL=(%s) ALL\n", user, passwd)
	} else {
		fmt.Fprintf(&b, "%s ALL=(%s) %s\n", user, passwd, strings.Join(commands, ", "))
	}
	return b.String()
}

func validateSudoers(ctx context.Context, filePath string) error {
	if err := exec.CommandContext(ctx, "visudo", "-c", "-f", filePath).Run(); err != nil {
		return fmt.Errorf("visudo: %w", err)
	}
	return nil
}
