package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ggipc/ggerr"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvSocketPath, "/run/ipc.socket")
	t.Setenv(EnvAuthToken, "T")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.SocketPath != "/run/ipc.socket" || cfg.AuthToken != "T" || cfg.ResponseTimeout != DefaultResponseTimeout {
		t.Fatalf("unexpected config: %s", cfg)
	}
}

func TestFromEnvMissing(t *testing.T) {
	t.Setenv(EnvSocketPath, "")
	t.Setenv(EnvAuthToken, "T")
	if _, err := FromEnv(); !errors.Is(err, ggerr.Config) {
		t.Fatalf("expected Config error, got %v", err)
	}
	t.Setenv(EnvSocketPath, "/s")
	t.Setenv(EnvAuthToken, "")
	if _, err := FromEnv(); !errors.Is(err, ggerr.Config) {
		t.Fatalf("expected Config error, got %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Setenv(EnvAuthToken, "from-env")
	path := writeFile(t, `
socket_path = "/tmp/gg.sock"
response_timeout = "250ms"
max_streams = 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SocketPath != "/tmp/gg.sock" || cfg.ResponseTimeout != 250*time.Millisecond ||
		cfg.MaxStreams != 4 || cfg.MaxMessageLen != DefaultMaxMessageLen || cfg.AuthToken != "from-env" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvAuthToken, "")
	path := filepath.Join(t.TempDir(), "client.yaml")
	body := `socket_path: /tmp/gg.sock
auth_token: tok
response_timeout: 2s
max_message_len: 4096
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SocketPath != "/tmp/gg.sock" || cfg.AuthToken != "tok" || cfg.ResponseTimeout != 2*time.Second ||
		cfg.MaxMessageLen != 4096 || cfg.MaxStreams != DefaultMaxStreams {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	bad := filepath.Join(t.TempDir(), "client.yml")
	if err := os.WriteFile(bad, []byte("socket_path: /s\nbogus: 1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(bad); !errors.Is(err, ggerr.Config) {
		t.Fatalf("unknown yaml key: expected Config error, got %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"unknown key": `socket_path = "/s"
bogus = 1`,
		"bad syntax":   `socket_path = `,
		"zero streams": `socket_path = "/s"
max_streams = 0`,
		"tiny messages": `socket_path = "/s"
max_message_len = 8`,
		"negative timeout": `socket_path = "/s"
response_timeout = "-1s"`,
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); !errors.Is(err, ggerr.Config) {
			t.Fatalf("%s: expected Config error, got %v", name, err)
		}
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); !errors.Is(err, ggerr.Config) {
		t.Fatalf("missing file: expected Config error, got %v", err)
	}
}

func TestTemplateLoads(t *testing.T) {
	t.Setenv(EnvSocketPath, "/run/sock")
	path := filepath.Join(t.TempDir(), "client.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); !errors.Is(err, ggerr.Config) {
		t.Fatalf("expected refusal to overwrite, got %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load template: %v", err)
	}
	want := DefaultClient()
	if cfg.ResponseTimeout != want.ResponseTimeout || cfg.MaxStreams != want.MaxStreams || cfg.SocketPath != "/run/sock" {
		t.Fatalf("template does not match defaults: %+v", cfg)
	}
}

func TestStringRedactsToken(t *testing.T) {
	cfg := DefaultClient()
	cfg.AuthToken = "secret"
	if s := cfg.String(); s == "" || strings.Contains(s, "secret") {
		t.Fatalf("token leaked: %s", s)
	}
}
