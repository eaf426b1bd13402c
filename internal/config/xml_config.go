// Package config provides XML-based configuration for the environment model server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Gateway modes.
const (
	GatewayLocal  = "local"
	GatewayRemote = "remote"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"EnvModelEditor"`

	Server ServerConfig `xml:"Server"`

	// Where models and entities are persisted
	Gateway GatewayConfig `xml:"Gateway"`
	Storage StorageConfig `xml:"Storage"`
	Runtime RuntimeConfig `xml:"Runtime"`

	Events EventsConfig `xml:"Events"`
	Editor EditorConfig `xml:"Editor"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// GatewayConfig selects the MBP backend. In local mode the server hosts the
// backend itself; in remote mode it talks to BaseURL.
type GatewayConfig struct {
	Mode           string `xml:"Mode"`
	BaseURL        string `xml:"BaseURL"`
	Username       string `xml:"Username"`
	Password       string `xml:"Password"`
	TimeoutSeconds int    `xml:"TimeoutSeconds"`
}

// StorageConfig selects the store backing the local gateway.
type StorageConfig struct {
	Driver        string `xml:"Driver"`
	DSN           string `xml:"DSN"`
	DataDirectory string `xml:"DataDirectory"`
}

// AdapterConfig is an adapter registered on startup.
type AdapterConfig struct {
	Name  string `xml:"name,attr"`
	Image string `xml:"image,attr"`
}

// RuntimeConfig selects where deployed components run.
type RuntimeConfig struct {
	Kind     string          `xml:"Kind"`
	Network  string          `xml:"DockerNetwork"`
	Adapters []AdapterConfig `xml:"Adapters>Adapter"`
}

// EventsConfig contains lifecycle event publishing settings
type EventsConfig struct {
	Enabled       bool   `xml:"Enabled"`
	NATSURL       string `xml:"NATSURL"`
	SubjectPrefix string `xml:"SubjectPrefix"`
}

// EditorConfig contains editor session settings
type EditorConfig struct {
	ClearAfterMillis       int    `xml:"ClearProcessingAfterMillis"`
	Concurrency            int    `xml:"Concurrency"`
	MaxSessions            int    `xml:"MaxSessions"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes"`
	PaletteFile            string `xml:"PaletteFile"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "8M",
		},
		Gateway: GatewayConfig{
			Mode:           GatewayLocal,
			TimeoutSeconds: 30,
		},
		Storage: StorageConfig{
			Driver:        "duckdb",
			DSN:           "envmodel.duckdb",
			DataDirectory: "./data",
		},
		Runtime: RuntimeConfig{
			Kind:    "simulated",
			Network: "bridge",
			Adapters: []AdapterConfig{
				{Name: "temperature-adapter", Image: "mbp/temperature-adapter:latest"},
				{Name: "light-adapter", Image: "mbp/light-adapter:latest"},
			},
		},
		Events: EventsConfig{
			Enabled:       false,
			NATSURL:       "nats://127.0.0.1:4222",
			SubjectPrefix: "envmodel",
		},
		Editor: EditorConfig{
			ClearAfterMillis:       3000,
			Concurrency:            0,
			MaxSessions:            20,
			SessionTimeoutMinutes:  60,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        4,
			DuckDBMemoryLimit:    "512MB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, config.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	config.Runtime.Adapters = nil
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	return config, config.Validate()
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Environment Model Editor Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the enumerated settings.
func (c *AppConfig) Validate() error {
	switch c.Gateway.Mode {
	case GatewayLocal:
	case GatewayRemote:
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway: remote mode needs a BaseURL")
		}
	default:
		return fmt.Errorf("gateway: unknown mode %q", c.Gateway.Mode)
	}
	if c.Editor.Concurrency < 0 {
		return fmt.Errorf("editor: concurrency must not be negative")
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if url := os.Getenv("MBP_BASE_URL"); url != "" {
		c.Gateway.Mode = GatewayRemote
		c.Gateway.BaseURL = url
	}
	if user := os.Getenv("MBP_USERNAME"); user != "" {
		c.Gateway.Username = user
	}
	if pass := os.Getenv("MBP_PASSWORD"); pass != "" {
		c.Gateway.Password = pass
	}

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if dsn := os.Getenv("STORE_DSN"); dsn != "" {
		c.Storage.DSN = dsn
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.Events.Enabled = true
		c.Events.NATSURL = natsURL
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = strings.ToLower(level)
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	// DuckDB files live in the data directory; postgres DSNs are left alone.
	if c.Storage.Driver == "duckdb" && c.Storage.DSN != "" && !filepath.IsAbs(c.Storage.DSN) {
		c.Storage.DSN = filepath.Join(c.Storage.DataDirectory, c.Storage.DSN)
	}
	if c.Editor.PaletteFile != "" && !filepath.IsAbs(c.Editor.PaletteFile) {
		c.Editor.PaletteFile = filepath.Join(configDir, c.Editor.PaletteFile)
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GatewayTimeout returns the request timeout of the remote gateway client.
func (c *AppConfig) GatewayTimeout() time.Duration {
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// ClearAfter returns how long a finished Processing State stays visible.
func (c *AppConfig) ClearAfter() time.Duration {
	return time.Duration(c.Editor.ClearAfterMillis) * time.Millisecond
}

// SessionTimeout returns the idle time after which editor sessions are dropped.
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Editor.SessionTimeoutMinutes) * time.Minute
}

// CleanupInterval returns the period of the session cleanup loop.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Editor.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Storage.DataDirectory, err)
	}
	return nil
}
