package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/pulse/internal/config"
)

func TestPathsUnderBaseDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("PULSE_HOME", base)

	if got, want := Dir("main"), filepath.Join(base, "instances", "main"); got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
	if got := SocketPath("test"); !strings.HasSuffix(got, filepath.Join("instances", "test", "admin.sock")) {
		t.Errorf("SocketPath(test) = %q", got)
	}
	if got := DBPath("test"); !strings.HasSuffix(got, filepath.Join("instances", "test", "pulse.db")) {
		t.Errorf("DBPath(test) = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("PULSE_HOME", t.TempDir())
	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Errorf("log dir permission = %o, want 0700", info.Mode().Perm())
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("PULSE_HOME", t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	cfg := config.Default()
	cfg.DefaultInstance = "staging"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "staging" {
		t.Errorf("Resolve() = %q, want staging", got)
	}
	if got := Resolve("dev"); got != "dev" {
		t.Errorf("Resolve(dev) = %q, want dev", got)
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "edge123", false},
		{"valid with hyphen", "eu-west", false},
		{"valid with underscore", "eu_west", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"dot", "a.b", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
