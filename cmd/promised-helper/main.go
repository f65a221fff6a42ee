// Command promised-helper is a minimal, statically linked binary
// pushed to a managed host and driven over JSON-over-stdio by the
// agent's SSH transport. It runs the privileged commands a promise
// actuator cannot safely perform itself (shell exec, file writes,
// package/service management, sudoers and sshd hardening), reports
// each one's outcome, and self-deletes on exit.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/promised/agent/pkg/helper/handlers"
	"github.com/promised/agent/pkg/helper/protocol"
)

const (
	version = "1.0.0"
	ttl     = 10 * time.Minute
)

type helper struct {
	encoder      *protocol.Encoder
	decoder      *protocol.Decoder
	execPath     string
	commandCount int
}

func main() {
	h := &helper{
		encoder: protocol.NewEncoder(os.Stdout),
		decoder: protocol.NewDecoder(os.Stdin),
	}

	var err error
	h.execPath, err = os.Executable()
	if err != nil {
		h.fatal("INIT_FAILED", fmt.Sprintf("resolving executable path: %v", err))
		return
	}

	if err := h.sendReady(); err != nil {
		h.fatal("READY_FAILED", fmt.Sprintf("sending ready: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ttl)
	defer cancel()

	reason, exitCode := "completed", 0
loop:
	for {
		select {
		case <-ctx.Done():
			reason = "ttl_expired"
			break loop
		default:
			if err := h.processNext(ctx); err != nil {
				if err.Error() == "EOF" {
					reason = "stdin_closed"
				} else {
					reason, exitCode = "error", 1
				}
				break loop
			}
		}
	}

	h.exit(reason, exitCode)
}

func (h *helper) sendReady() error {
	return h.encoder.EncodeReady(&protocol.ReadyMessage{
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.CommandTypeExec):          true,
			string(protocol.CommandTypeFileWrite):     true,
			string(protocol.CommandTypeFileRead):      true,
			string(protocol.CommandTypePackageEnsure): true,
			string(protocol.CommandTypeServiceManage): true,
			string(protocol.CommandTypeSudoersEnsure): true,
			string(protocol.CommandTypeSSHDHarden):    true,
		},
		Metadata: map[string]string{"ttl": ttl.String()},
	})
}

func (h *helper) processNext(ctx context.Context) error {
	cmd, err := h.decoder.DecodeCommand()
	if err != nil {
		return err
	}
	h.commandCount++

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	eventCh := make(chan *protocol.EventMessage, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for evt := range eventCh {
			_ = h.encoder.EncodeEvent(evt)
		}
	}()

	start := time.Now()
	result, err := dispatch(cmdCtx, cmd, eventCh)
	close(eventCh)
	<-done
	duration := time.Since(start).Seconds()

	if err != nil {
		return h.encoder.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "EXEC_FAILED",
			Message:   err.Error(),
		})
	}
	return h.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	})
}

func dispatch(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (json.RawMessage, error) {
	switch cmd.Type {
	case protocol.CommandTypeExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.ExecHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypeFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.FileWriteHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypeFileRead:
		var params protocol.FileReadParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.FileReadHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypePackageEnsure:
		var params protocol.PackageEnsureParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.PackageEnsureHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypeServiceManage:
		var params protocol.ServiceManageParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.ServiceManageHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypeSudoersEnsure:
		var params protocol.SudoersEnsureParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.SudoersEnsureHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	case protocol.CommandTypeSSHDHarden:
		var params protocol.SSHDHardenParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		result, err := (&handlers.SSHDHardenHandler{}).Handle(ctx, &params, eventCh)
		return marshalOrErr(result, err)

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

func marshalOrErr(result any, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

func (h *helper) exit(reason string, exitCode int) {
	msg := &protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      exitCode,
		CommandsTotal: h.commandCount,
	}
	if err := os.Remove(h.execPath); err == nil {
		msg.SelfDeleted = true
	}
	_ = h.encoder.EncodeExit(msg)
	os.Exit(exitCode)
}

func (h *helper) fatal(code, message string) {
	_ = h.encoder.EncodeError(&protocol.ErrorMessage{Code: code, Message: message})
	os.Exit(1)
}
