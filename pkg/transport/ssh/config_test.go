package ssh

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(keyPath, []byte("not-a-real-key"), 0600); err != nil {
		t.Fatalf("writing fake key: %v", err)
	}

	cases := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{
			name: "valid key auth",
			cfg: &Config{
				Host: "example.com", Port: 22, User: "deploy",
				AuthMethod: AuthMethodKey, PrivateKeyPath: keyPath,
				ConnectionTimeout: 1, CommandTimeout: 1,
			},
			ok: true,
		},
		{
			name: "missing host",
			cfg:  &Config{Port: 22, User: "deploy", AuthMethod: AuthMethodKey, PrivateKeyPath: keyPath, ConnectionTimeout: 1, CommandTimeout: 1},
			ok:   false,
		},
		{
			name: "missing key file",
			cfg: &Config{
				Host: "example.com", Port: 22, User: "deploy",
				AuthMethod: AuthMethodKey, PrivateKeyPath: filepath.Join(dir, "missing"),
				ConnectionTimeout: 1, CommandTimeout: 1,
			},
			ok: false,
		},
		{
			name: "password auth without password",
			cfg: &Config{
				Host: "example.com", Port: 22, User: "deploy",
				AuthMethod: AuthMethodPassword, ConnectionTimeout: 1, CommandTimeout: 1,
			},
			ok: false,
		},
		{
			name: "invalid port",
			cfg: &Config{
				Host: "example.com", Port: 0, User: "deploy",
				AuthMethod: AuthMethodKey, PrivateKeyPath: keyPath, ConnectionTimeout: 1, CommandTimeout: 1,
			},
			ok: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestConfig_Address(t *testing.T) {
	cfg := &Config{Host: "10.0.0.5", Port: 2222}
	if got, want := cfg.Address(), "10.0.0.5:2222"; got != want {
		t.Fatalf("Address() = %q, want %q", got, want)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("host", "user")
	if cfg.Port != 22 {
		t.Fatalf("Port = %d, want 22", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Fatalf("AuthMethod = %s, want %s", cfg.AuthMethod, AuthMethodKey)
	}
	if !cfg.StrictHostKeyChecking {
		t.Fatal("expected strict host key checking on by default")
	}
}
