package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Profile holds envmodelctl connection settings.
type Profile struct {
	Gateway GatewayProfile `toml:"gateway"`
	Owner   string         `toml:"owner"`
	Color   bool           `toml:"color"`
}

// GatewayProfile points the CLI at an MBP backend.
type GatewayProfile struct {
	BaseURL        string `toml:"base_url"`
	Username       string `toml:"username"`
	Password       string `toml:"password"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DefaultProfile returns the profile used when no file exists.
func DefaultProfile() *Profile {
	return &Profile{
		Gateway: GatewayProfile{
			BaseURL:        "http://localhost:8089/mbp",
			Username:       "admin",
			TimeoutSeconds: 30,
		},
		Owner: "admin",
		Color: true,
	}
}

// ProfileDir returns the envmodelctl config directory.
func ProfileDir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "envmodelctl")
}

// DefaultProfilePath is profile.toml inside ProfileDir.
func DefaultProfilePath() string {
	return filepath.Join(ProfileDir(), "profile.toml")
}

// LoadProfile reads path on top of the defaults. A missing file is not an error.
func LoadProfile(path string) (*Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	if err := toml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	if p.Owner == "" {
		p.Owner = p.Gateway.Username
	}
	return p, nil
}

// SaveProfile writes p to path, creating the directory.
func SaveProfile(path string, p *Profile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(p)
}

// Timeout is the per-request gateway timeout.
func (p *Profile) Timeout() time.Duration {
	if p.Gateway.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.Gateway.TimeoutSeconds) * time.Second
}
