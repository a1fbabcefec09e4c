package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"wavelink/internal/ipc"
)

func TestStatusCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	out, _, err := runCLI(t, []string{"status", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}

	var resp ipc.StatusResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode status output: %v", err)
	}
	if !resp.Running {
		t.Fatal("expected daemon to report running")
	}
	if resp.Session.SessionID == "" {
		t.Fatal("expected an attached session")
	}
}

func TestStatusCommandRendersSections(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	out, _, err := runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "== Session ==")
	requireContains(t, out, "connected")
}

func TestSessionDetachAndAttachCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	out, _, err := runCLI(t, []string{"session", "detach"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session detach: %v", err)
	}
	requireContains(t, out, "Session detached")
	if env.daemon.Session().Running() {
		t.Fatal("session still running after detach")
	}

	out, _, err = runCLI(t, []string{"session", "attach", env.cfg.Engine.Socket}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session attach: %v", err)
	}
	requireContains(t, out, "attached")
	if !env.daemon.Session().Running() {
		t.Fatal("session not running after attach")
	}
}

func TestSessionResetCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	before := env.daemon.Session().Report().SessionID
	out, _, err := runCLI(t, []string{"session", "reset"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("session reset: %v", err)
	}
	requireContains(t, out, "Session reset")
	if after := env.daemon.Session().Report().SessionID; after == before {
		t.Fatal("session id not rotated")
	}
}

func TestStatsCommandJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	out, _, err := runCLI(t, []string{"stats", "--json"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	var resp ipc.StatsResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode stats output: %v", err)
	}
	if resp.Current.SessionID == "" {
		t.Fatal("expected current session in stats")
	}
}

func TestStopCommand(t *testing.T) {
	env := setupCLITestEnv(t)
	waitFor(t, "session attach", env.daemon.Session().Running)

	out, _, err := runCLI(t, []string{"stop"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon stopped")
	if env.daemon.Running() {
		t.Fatal("daemon still running after stop")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate", "--file", env.configPath}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	tmp := t.TempDir()
	target := filepath.Join(tmp, "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
}

func TestConfigShowPrintsEffectiveConfig(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "show", "--file", env.configPath}, env.socketPath, "")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, "[engine]")
	requireContains(t, out, env.cfg.Engine.Socket)
}
