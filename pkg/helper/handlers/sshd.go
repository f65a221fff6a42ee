package handlers

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/promised/agent/pkg/helper/protocol"
)

// SSHDHardenHandler tightens a subset of sshd_config settings,
// preserving comments and ordering of the keys it doesn't touch.
type SSHDHardenHandler struct{}

const sshdConfigPath = "/etc/ssh/sshd_config"

func (h *SSHDHardenHandler) Handle(ctx context.Context, params *protocol.SSHDHardenParams, eventCh chan<- *protocol.EventMessage) (*protocol.SSHDHardenResult, error) {
	result := &protocol.SSHDHardenResult{ModifiedKeys: []string{}}

	backupPath := sshdConfigPath + ".bak"
	if err := copyFile(sshdConfigPath, backupPath); err != nil {
		return nil, fmt.Errorf("creating backup: %w", err)
	}
	result.BackupPath = backupPath

	config, err := readSSHDConfig(sshdConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading sshd_config: %w", err)
	}
	original := make(map[string]string, len(config))
	for k, v := range config {
		original[k] = v
	}

	if params.DisablePasswordAuth {
		config["PasswordAuthentication"] = "no"
		result.ModifiedKeys = append(result.ModifiedKeys, "PasswordAuthentication")
	}
	if params.DisableRootLogin {
		config["PermitRootLogin"] = "no"
		result.ModifiedKeys = append(result.ModifiedKeys, "PermitRootLogin")
	}
	if len(params.AllowUsers) > 0 {
		config["AllowUsers"] = strings.Join(params.AllowUsers, " ")
		result.ModifiedKeys = append(result.ModifiedKeys, "AllowUsers")
	}
	if params.Port > 0 {
		config["Port"] = fmt.Sprintf("%d", params.Port)
		result.ModifiedKeys = append(result.ModifiedKeys, "Port")
	}

	changed := false
	for _, key := range result.ModifiedKeys {
		if original[key] != config[key] {
			changed = true
			break
		}
	}
	if !changed {
		result.ServiceAction = "none"
		return result, nil
	}

	if err := writeSSHDConfig(sshdConfigPath, config); err != nil {
		copyFile(backupPath, sshdConfigPath)
		return nil, fmt.Errorf("writing sshd_config: %w", err)
	}

	if params.TestConnection {
		if err := exec.CommandContext(ctx, "sshd", "-t").Run(); err != nil {
			copyFile(backupPath, sshdConfigPath)
			return nil, fmt.Errorf("sshd config test failed: %w", err)
		}
	}

	if err := reloadSSHD(ctx); err != nil {
		copyFile(backupPath, sshdConfigPath)
		return nil, fmt.Errorf("reloading sshd: %w", err)
	}

	result.Changed = true
	result.ServiceAction = "reloaded"
	return result, nil
}

func readSSHDConfig(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 2 {
			config[parts[0]] = strings.Join(parts[1:], " ")
		}
	}
	return config, scanner.Err()
}

func writeSSHDConfig(path string, config map[string]string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}

	var lines []string
	processed := make(map[string]bool)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			lines = append(lines, line)
			continue
		}
		parts := strings.Fields(trimmed)
		if len(parts) == 0 {
			lines = append(lines, line)
			continue
		}
		key := parts[0]
		if newValue, ok := config[key]; ok {
			lines = append(lines, fmt.Sprintf("%s %s", key, newValue))
			processed[key] = true
		} else {
			lines = append(lines, line)
		}
	}
	file.Close()
	if err := scanner.Err(); err != nil {
		return err
	}

	for key, value := range config {
		if !processed[key] {
			lines = append(lines, fmt.Sprintf("%s %s", key, value))
		}
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
}

func reloadSSHD(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "systemctl", "reload", "sshd").Run(); err != nil {
		if err := exec.CommandContext(ctx, "systemctl", "reload", "ssh").Run(); err != nil {
			return fmt.Errorf("reloading sshd/ssh service: %w", err)
		}
	}
	return nil
}
