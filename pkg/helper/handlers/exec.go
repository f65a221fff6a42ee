// Package handlers implements one handler per promised-helper command
// type.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/promised/agent/pkg/helper/protocol"
)

// ExecHandler runs a shell command, plain or sudo-escalated.
type ExecHandler struct{}

func (h *ExecHandler) Handle(ctx context.Context, params *protocol.ExecParams, eventCh chan<- *protocol.EventMessage) (*protocol.ExecResult, error) {
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	shell := params.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	var cmd *exec.Cmd
	switch {
	case params.UseSudo && params.SudoPassword != "":
		if len(params.Args) > 0 {
			fullCmd := append([]string{"-S", params.Command}, params.Args...)
			cmd = exec.CommandContext(ctx, "sudo", fullCmd...)
		} else {
			cmd = exec.CommandContext(ctx, "sudo", "-S", shell, "-c", params.Command)
		}
		cmd.Stdin = bytes.NewBufferString(params.SudoPassword + "\n")
	case params.UseSudo:
		if len(params.Args) > 0 {
			fullCmd := append([]string{params.Command}, params.Args...)
			cmd = exec.CommandContext(ctx, "sudo", fullCmd...)
		} else {
			cmd = exec.CommandContext(ctx, "sudo", shell, "-c", params.Command)
		}
	case len(params.Args) > 0:
		cmd = exec.CommandContext(ctx, params.Command, params.Args...)
	default:
		cmd = exec.CommandContext(ctx, shell, "-c", params.Command)
	}

	if params.WorkDir != "" {
		cmd.Dir = params.WorkDir
	}
	if len(params.Env) > 0 {
		env := make([]string, 0, len(params.Env))
		for k, v := range params.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	if params.CaptureOut {
		cmd.Stdout = &stdout
	}
	if params.CaptureErr {
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	result := &protocol.ExecResult{Duration: time.Since(start).Seconds()}
	if params.CaptureOut {
		result.Stdout = stdout.String()
	}
	if params.CaptureErr {
		result.Stderr = stderr.String()
	}

	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return nil, fmt.Errorf("executing command: %w", err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	return result, nil
}
