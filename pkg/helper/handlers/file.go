package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/promised/agent/pkg/helper/protocol"
)

// FileWriteHandler writes file content on the helper's host, optionally
// via sudo tee when the caller has no direct write access.
type FileWriteHandler struct{}

func (h *FileWriteHandler) Handle(ctx context.Context, params *protocol.FileWriteParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileWriteResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	result := &protocol.FileWriteResult{}
	_, statErr := os.Stat(params.Path)
	fileExists := statErr == nil
	if !fileExists && !params.Create {
		return nil, fmt.Errorf("file does not exist and create=false: %s", params.Path)
	}

	if params.Backup && fileExists {
		backupPath := params.Path + ".bak"
		if err := copyFile(params.Path, backupPath); err != nil {
			return nil, fmt.Errorf("creating backup: %w", err)
		}
		result.BackupPath = backupPath
	}

	dir := filepath.Dir(params.Path)
	if params.UseSudo {
		if err := runSudoCommand(ctx, params.SudoPassword, "mkdir", "-p", dir); err != nil {
			return nil, fmt.Errorf("creating directory: %w", err)
		}
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating directory: %w", err)
	}

	content := []byte(params.Content)
	if params.UseSudo {
		cmd := exec.CommandContext(ctx, "sudo", "-S", "tee", params.Path)
		if params.SudoPassword != "" {
			cmd.Stdin = bytes.NewReader(append([]byte(params.SudoPassword+"\n"), content...))
		} else {
			cmd.Stdin = bytes.NewReader(content)
		}
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("writing file: %w (stderr: %s)", err, stderr.String())
		}
	} else if err := os.WriteFile(params.Path, content, 0644); err != nil {
		return nil, fmt.Errorf("writing file: %w", err)
	}

	result.BytesWritten = int64(len(content))
	result.Created = !fileExists

	if params.Mode != "" {
		mode, err := strconv.ParseUint(params.Mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode: %w", err)
		}
		if params.UseSudo {
			if err := runSudoCommand(ctx, params.SudoPassword, "chmod", params.Mode, params.Path); err != nil {
				return nil, fmt.Errorf("setting mode: %w", err)
			}
		} else if err := os.Chmod(params.Path, os.FileMode(mode)); err != nil {
			return nil, fmt.Errorf("setting mode: %w", err)
		}
	}

	if params.Owner != "" || params.Group != "" {
		ownership := params.Owner
		if params.Group != "" {
			ownership += ":" + params.Group
		}
		if params.UseSudo {
			if err := runSudoCommand(ctx, params.SudoPassword, "chown", ownership, params.Path); err != nil {
				return nil, fmt.Errorf("setting ownership: %w", err)
			}
		}
		// Unprivileged chown to a different owner would fail anyway;
		// skip it rather than surface a misleading error.
	}

	hash := sha256.Sum256(content)
	result.Checksum = fmt.Sprintf("%x", hash)
	return result, nil
}

// FileReadHandler reads file content and metadata back from the
// helper's host, capped at a maximum byte count to bound memory use.
type FileReadHandler struct{}

func (h *FileReadHandler) Handle(ctx context.Context, params *protocol.FileReadParams, eventCh chan<- *protocol.EventMessage) (*protocol.FileReadResult, error) {
	if params.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	info, err := os.Stat(params.Path)
	if err != nil {
		return nil, fmt.Errorf("stat: %w", err)
	}

	result := &protocol.FileReadResult{
		Size: info.Size(),
		Mode: fmt.Sprintf("%04o", info.Mode().Perm()),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		result.Owner = fmt.Sprintf("%d", stat.Uid)
		result.Group = fmt.Sprintf("%d", stat.Gid)
	}

	maxBytes := params.MaxBytes
	if maxBytes == 0 {
		maxBytes = 10 * 1024 * 1024
	}

	file, err := os.Open(params.Path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer file.Close()

	buf := make([]byte, maxBytes)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading file: %w", err)
	}

	content := buf[:n]
	result.Content = string(content)
	result.Truncated = int64(n) >= maxBytes

	hash := sha256.Sum256(content)
	result.Checksum = fmt.Sprintf("%x", hash)
	return result, nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	sourceInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.Chmod(dst, sourceInfo.Mode())
}

func runSudoCommand(ctx context.Context, sudoPassword, command string, args ...string) error {
	cmdArgs := append([]string{"-S", command}, args...)
	cmd := exec.CommandContext(ctx, "sudo", cmdArgs...)
	if sudoPassword != "" {
		cmd.Stdin = bytes.NewBufferString(sudoPassword + "\n")
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr.String())
	}
	return nil
}
