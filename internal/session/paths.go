package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "WPPTRIAGE_HOME"

// BaseDir returns $WPPTRIAGE_HOME, or ~/.wpptriage.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpptriage")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// SocketPath returns the UDS socket path of the health service.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "triaged.sock")
}

// LockPath returns the lock file path for a session.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the session's triage.db path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "triage.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "triaged.log")
}

// ConfigPath returns the session config file path, falling back to the
// global one when the session has none.
func ConfigPath(name string) string {
	p := filepath.Join(Dir(name), "config.toml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return GlobalConfigPath()
}

// GlobalConfigPath returns ~/.wpptriage/config.toml.
func GlobalConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnvPath returns the .env file read at startup.
func EnvPath() string {
	return filepath.Join(BaseDir(), ".env")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
