// Package config loads and persists ASKD settings: the system config
// (where the data directory lives), the user config (backends, remote tool
// servers, tool endpoints) and the credential store holding API keys.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// SystemConfig is the small bootstrap config in the XDG config dir.
type SystemConfig struct {
	DataDirectory string `toml:"data_directory"`
}

// BackendConfig describes one upstream LLM backend.
type BackendConfig struct {
	ID           string `toml:"id"`
	Name         string `toml:"name"`
	BaseURL      string `toml:"base_url"`
	DefaultModel string `toml:"default_model"`
	Enabled      bool   `toml:"enabled"`
}

// ToolServerConfig describes one remote tool server the engine may connect to.
type ToolServerConfig struct {
	Name      string `toml:"name,omitempty"`
	ServerURL string `toml:"server_url"`
}

// SearchConfig configures the web_search tool endpoint.
type SearchConfig struct {
	Endpoint     string `toml:"endpoint"`
	CredentialID string `toml:"credential_id"`
}

// MediaConfig configures the understand_image tool: an OpenAI-compatible
// vision endpoint and the model used against it.
type MediaConfig struct {
	Endpoint     string `toml:"endpoint"`
	Model        string `toml:"model"`
	CredentialID string `toml:"credential_id"`
}

// UserConfig is the user-editable config stored in the data directory.
type UserConfig struct {
	DefaultBackend string             `toml:"default_backend"`
	Backends       []BackendConfig    `toml:"backends"`
	ToolServers    []ToolServerConfig `toml:"tool_servers"`
	Search         SearchConfig       `toml:"search"`
	Media          MediaConfig        `toml:"media"`
	Security       SecurityConfig     `toml:"security"`
	ListenAddr     string             `toml:"listen_addr"`
}

// SecurityConfig selects how credentials are stored at rest.
type SecurityConfig struct {
	CredentialStorage string `toml:"credential_storage"` // "plaintext" or "ssh_key"
	SSHKeyPath        string `toml:"ssh_key_path,omitempty"`
}

// Config is the merged runtime view handed to the rest of the engine.
type Config struct {
	DataDirectory   string
	DefaultBackend  string
	Backends        []BackendConfig
	ToolServers     []ToolServerConfig
	Search          SearchConfig
	Media           MediaConfig
	ListenAddr      string
	CredentialStore *CredentialStore
}

var Debug = false
var DebugLog *log.Logger

// DataDir returns the expanded data directory path.
func (c *Config) DataDir() string {
	return ExpandPath(c.DataDirectory)
}

// Backend returns the backend config with the given id, or nil.
func (c *Config) Backend(id string) *BackendConfig {
	for i := range c.Backends {
		if c.Backends[i].ID == id {
			return &c.Backends[i]
		}
	}
	return nil
}

// APIKey returns the stored credential for a backend, or "".
func (c *Config) APIKey(backendID string) string {
	if c.CredentialStore == nil {
		return ""
	}
	return c.CredentialStore.Get(backendID)
}

func (c *Config) applyEnvOverrides() {
	if dataDir := os.Getenv("ASKD_DATA_DIR"); dataDir != "" {
		c.DataDirectory = dataDir
	}
	if backend := os.Getenv("ASKD_DEFAULT_BACKEND"); backend != "" {
		c.DefaultBackend = backend
	}
	if addr := os.Getenv("ASKD_LISTEN_ADDR"); addr != "" {
		c.ListenAddr = addr
	}
}

// CheckDebug reports whether debug logging was requested via environment.
func CheckDebug() bool {
	debug := os.Getenv("ASKD_DEBUG")
	return debug == "true" || debug == "1"
}

// InitDebugLog opens the file-backed debug log in the data directory.
func InitDebugLog(dataDir string) {
	if !CheckDebug() {
		return
	}

	Debug = true
	logPath := filepath.Join(dataDir, "debug.log")

	// 0600: the log may contain prompts and tool output
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open debug log at %s: %v\n", logPath, err)
		return
	}

	DebugLog = log.New(f, "", log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile)
	DebugLog.Printf("=== Debug logging started (ASKD_DEBUG=%s) ===", os.Getenv("ASKD_DEBUG"))
}

// Load reads the system config, the user config and the credential store and
// merges them into one runtime Config.
func Load() (*Config, error) {
	sysCfg, err := LoadSystemConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load system config: %w", err)
	}

	dataDir := ExpandPath(sysCfg.DataDirectory)
	if err := EnsureDir(dataDir); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	userCfg, err := LoadUserConfig(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	}

	method := SecurityMethod(userCfg.Security.CredentialStorage)
	if method == "" {
		method = SecurityPlainText
	}
	store := NewCredentialStore(method, ExpandPath(userCfg.Security.SSHKeyPath))
	if err := store.Load(dataDir); err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	cfg := &Config{
		DataDirectory:   sysCfg.DataDirectory,
		DefaultBackend:  userCfg.DefaultBackend,
		Backends:        userCfg.Backends,
		ToolServers:     userCfg.ToolServers,
		Search:          userCfg.Search,
		Media:           userCfg.Media,
		ListenAddr:      userCfg.ListenAddr,
		CredentialStore: store,
	}
	cfg.applyEnvOverrides()

	return cfg, nil
}
