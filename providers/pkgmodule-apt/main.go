// Command pkgmodule-apt is a package module adapter: it speaks the
// verb/Key=Value protocol on stdin/stdout and drives dpkg/apt-get to
// satisfy it. It is a standalone executable with no dependency on the
// agent module, matching how every package module adapter is meant to
// be invokable in any language.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "pkgmodule-apt: missing verb argument")
		os.Exit(1)
	}
	verb := os.Args[1]
	fields := readFields(os.Stdin)

	var err error
	switch verb {
	case "supports-api-version":
		fmt.Println("1")
	case "list-installed":
		err = listInstalled()
	case "list-updates":
		err = listUpdates(false)
	case "list-updates-local":
		err = listUpdates(true)
	case "repo-install":
		err = repoInstall(fields)
	case "file-install":
		err = fileInstall(fields)
	case "remove":
		err = remove(fields)
	default:
		err = fmt.Errorf("unsupported verb %q", verb)
	}

	if err != nil {
		fmt.Printf("Error=%s\n", verb)
		fmt.Printf("ErrorMessage=%s\n", err.Error())
		os.Exit(0) // the failure is reported in-band, not via exit status
	}
}

// field is one parsed "Key=Value" stdin line. Keys may repeat (e.g.
// multiple "options" lines), so fields is a slice, not a map.
type field struct{ key, value string }

func readFields(r *os.File) []field {
	var out []field
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out = append(out, field{key: k, value: v})
	}
	return out
}

func firstField(fields []field, key string) (string, bool) {
	for _, f := range fields {
		if f.key == key {
			return f.value, true
		}
	}
	return "", false
}

func allFields(fields []field, key string) []string {
	var out []string
	for _, f := range fields {
		if f.key == key {
			out = append(out, f.value)
		}
	}
	return out
}

// listInstalled emits one Name=/Version=/Architecture= triple per
// package dpkg-query knows about.
func listInstalled() error {
	out, err := exec.Command("dpkg-query", "-W", "-f", "${Package},${Version},${Architecture}\n").Output()
	if err != nil {
		return fmt.Errorf("dpkg-query: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 3)
		if len(parts) != 3 {
			continue
		}
		fmt.Printf("Name=%s\n", parts[0])
		fmt.Printf("Version=%s\n", parts[1])
		fmt.Printf("Architecture=%s\n", parts[2])
	}
	return nil
}

// listUpdates emits one Name=/Version=/Architecture= triple per
// package apt reports as upgradable. local is accepted for parity with
// list-updates-local's distinct verb but apt has no separate "local
// source" upgrade listing, so both verbs share this implementation.
func listUpdates(local bool) error {
	args := []string{"list", "--upgradable"}
	out, err := exec.Command("apt", args...).Output()
	if err != nil {
		return fmt.Errorf("apt list --upgradable: %w", err)
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		// Format: "name/suite version arch [upgradable from: old]"
		if line == "" || strings.HasPrefix(line, "Listing...") {
			continue
		}
		nameSuite, rest, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		name := strings.SplitN(nameSuite, "/", 2)[0]
		fields := strings.Fields(rest)
		if len(fields) < 2 {
			continue
		}
		fmt.Printf("Name=%s\n", name)
		fmt.Printf("Version=%s\n", fields[0])
		fmt.Printf("Architecture=%s\n", fields[1])
	}
	return nil
}

func repoInstall(fields []field) error {
	name, ok := firstField(fields, "Name")
	if !ok {
		return fmt.Errorf("repo-install: missing Name field")
	}
	target := name
	if version, ok := firstField(fields, "Version"); ok && version != "" {
		target = name + "=" + version
	}
	args := append([]string{"-y", "install", target}, allFields(fields, "options")...)
	return runApt(args...)
}

func fileInstall(fields []field) error {
	path, ok := firstField(fields, "File")
	if !ok {
		return fmt.Errorf("file-install: missing File field")
	}
	cmd := exec.Command("dpkg", "-i", path)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func remove(fields []field) error {
	name, ok := firstField(fields, "Name")
	if !ok {
		return fmt.Errorf("remove: missing Name field")
	}
	return runApt("-y", "remove", name)
}

func runApt(args ...string) error {
	cmd := exec.Command("apt-get", args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
