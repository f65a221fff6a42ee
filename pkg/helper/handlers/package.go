package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/promised/agent/pkg/helper/protocol"
)

// PackageEnsureHandler drives whichever native package manager the
// host has (apt, dnf/yum, zypper) to bring one package to its declared
// state. It is the fallback the agent reaches for when no WASM
// package module is registered for the target distribution; the
// package module protocol in pkg/pkgmodule is the preferred path.
type PackageEnsureHandler struct{}

func (h *PackageEnsureHandler) Handle(ctx context.Context, params *protocol.PackageEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.PackageEnsureResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("package name is required")
	}

	manager := params.Manager
	if manager == "" {
		var err error
		manager, err = detectPackageManager()
		if err != nil {
			return nil, fmt.Errorf("detecting package manager: %w", err)
		}
	}

	result := &protocol.PackageEnsureResult{}
	installed, currentVersion, err := isPackageInstalled(ctx, manager, params.Name)
	if err != nil {
		return nil, fmt.Errorf("checking package status: %w", err)
	}
	result.PreviousVersion = currentVersion

	switch params.State {
	case "present":
		if installed {
			result.Action = "already_present"
			result.InstalledVersion = currentVersion
		} else {
			if err := installPackage(ctx, manager, params.Name, params.Version, params.Options); err != nil {
				return nil, fmt.Errorf("installing package: %w", err)
			}
			result.Changed = true
			result.Action = "installed"
			_, newVersion, _ := isPackageInstalled(ctx, manager, params.Name)
			result.InstalledVersion = newVersion
		}

	case "absent":
		if !installed {
			result.Action = "already_absent"
		} else {
			if err := removePackage(ctx, manager, params.Name, params.Options); err != nil {
				return nil, fmt.Errorf("removing package: %w", err)
			}
			result.Changed = true
			result.Action = "removed"
		}

	case "latest":
		if !installed {
			if err := installPackage(ctx, manager, params.Name, "", params.Options); err != nil {
				return nil, fmt.Errorf("installing package: %w", err)
			}
			result.Action = "installed"
		} else {
			if err := upgradePackage(ctx, manager, params.Name, params.Options); err != nil {
				return nil, fmt.Errorf("upgrading package: %w", err)
			}
			result.Action = "upgraded"
		}
		result.Changed = true
		_, newVersion, _ := isPackageInstalled(ctx, manager, params.Name)
		result.InstalledVersion = newVersion

	default:
		return nil, fmt.Errorf("invalid state: %s", params.State)
	}

	return result, nil
}

func isPackageInstalled(ctx context.Context, manager, name string) (bool, string, error) {
	var cmd *exec.Cmd
	switch manager {
	case "apt":
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	case "dnf", "yum", "zypper":
		cmd = exec.CommandContext(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	default:
		return false, "", fmt.Errorf("unsupported package manager: %s", manager)
	}

	out, err := cmd.Output()
	if err != nil {
		return false, "", nil
	}
	return true, strings.TrimSpace(string(out)), nil
}

func installPackage(ctx context.Context, manager, name, version string, options []string) error {
	spec := name
	if version != "" {
		switch manager {
		case "apt":
			spec = fmt.Sprintf("%s=%s", name, version)
		case "dnf", "yum":
			spec = fmt.Sprintf("%s-%s", name, version)
		}
	}
	return runManager(ctx, manager, "install", spec, options)
}

func removePackage(ctx context.Context, manager, name string, options []string) error {
	return runManager(ctx, manager, "remove", name, options)
}

func upgradePackage(ctx context.Context, manager, name string, options []string) error {
	action := "upgrade"
	if manager == "zypper" {
		action = "update"
	}
	return runManager(ctx, manager, action, name, options)
}

func runManager(ctx context.Context, manager, action, target string, options []string) error {
	switch manager {
	case "apt", "dnf", "yum", "zypper":
	default:
		return fmt.Errorf("unsupported package manager: %s", manager)
	}
	args := append([]string{action, "-y"}, options...)
	args = append(args, target)
	if err := exec.CommandContext(ctx, manager, args...).Run(); err != nil {
		return fmt.Errorf("%s %s: %w", manager, action, err)
	}
	return nil
}

func detectPackageManager() (string, error) {
	for _, mgr := range []string{"apt", "dnf", "yum", "zypper"} {
		if _, err := exec.LookPath(mgr); err == nil {
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}
