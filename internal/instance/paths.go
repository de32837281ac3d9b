package instance

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.pulse, or $PULSE_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("PULSE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pulse")
}

// Dir returns the instance-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "instances", name)
}

// SocketPath returns the admin socket path for an instance.
func SocketPath(name string) string {
	return filepath.Join(Dir(name), "admin.sock")
}

// DBPath returns the database path for an instance.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "pulse.db")
}

// LogDir returns the log directory for an instance.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "pulsed.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the instance directory tree with proper permissions.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
