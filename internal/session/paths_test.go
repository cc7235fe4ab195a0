package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirUsesHomeOverride(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	if got, want := Dir("main"), filepath.Join(base, "sessions", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := DBPath("work"); got != filepath.Join(base, "sessions", "work", "triage.db") {
		t.Errorf("DBPath(work) = %q", got)
	}
	if got := EnvPath(); got != filepath.Join(base, ".env") {
		t.Errorf("EnvPath() = %q", got)
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	if got, want := BaseDir(), filepath.Join(home, ".wpptriage"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
}

func TestSocketAndLockPaths(t *testing.T) {
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("sessions", "test", "triaged.sock")) {
		t.Errorf("SocketPath(test) = %q, want suffix sessions/test/triaged.sock", got)
	}
	if got := LockPath("test"); !strings.HasSuffix(got, filepath.Join("sessions", "test", "LOCK")) {
		t.Errorf("LockPath(test) = %q, want suffix sessions/test/LOCK", got)
	}
	if got := LogPath("test"); !strings.HasSuffix(got, filepath.Join("test", "logs", "triaged.log")) {
		t.Errorf("LogPath(test) = %q", got)
	}
}

func TestConfigPathFallback(t *testing.T) {
	base := t.TempDir()
	t.Setenv(HomeEnv, base)

	if got := ConfigPath("main"); got != GlobalConfigPath() {
		t.Errorf("ConfigPath without session file = %q, want global", got)
	}

	if err := EnsureDir("main"); err != nil {
		t.Fatal(err)
	}
	local := filepath.Join(Dir("main"), "config.toml")
	if err := os.WriteFile(local, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if got := ConfigPath("main"); got != local {
		t.Errorf("ConfigPath = %q, want %q", got, local)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("%s not created: %v", dir, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s: mode %v", dir, info.Mode())
		}
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(SessionEnv, "")
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() = %q, want main", got)
	}
	t.Setenv(SessionEnv, "work")
	if got := Resolve(""); got != "work" {
		t.Errorf("Resolve() with env = %q, want work", got)
	}
	if got := Resolve("flag"); got != "flag" {
		t.Errorf("Resolve(flag) = %q", got)
	}
}
