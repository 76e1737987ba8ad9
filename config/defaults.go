package config

func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDirectory: "~/.local/share/askd",
	}
}

func DefaultUserConfig() *UserConfig {
	return &UserConfig{
		DefaultBackend: "openai",
		Backends: []BackendConfig{
			{
				ID:           "openai",
				Name:         "OpenAI",
				BaseURL:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
				Enabled:      true,
			},
			{
				ID:           "deepseek",
				Name:         "DeepSeek",
				BaseURL:      "https://api.deepseek.com/v1",
				DefaultModel: "deepseek-chat",
				Enabled:      false,
			},
			{
				ID:           "qwen",
				Name:         "Qwen",
				BaseURL:      "https://dashscope.aliyuncs.com/compatible-mode/v1",
				DefaultModel: "qwen-plus",
				Enabled:      false,
			},
			{
				ID:           "anthropic",
				Name:         "Anthropic",
				BaseURL:      "https://api.anthropic.com",
				DefaultModel: "claude-sonnet-4-5-20250929",
				Enabled:      false,
			},
			{
				ID:           "ollama",
				Name:         "Ollama",
				BaseURL:      "http://localhost:11434",
				DefaultModel: "llama3.1:latest",
				Enabled:      false,
			},
		},
		Search: SearchConfig{
			Endpoint:     "https://open.bigmodel.cn/api/paas/v4/web_search",
			CredentialID: "search",
		},
		Media: MediaConfig{
			Endpoint:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:        "qwen-vl-plus",
			CredentialID: "qwen",
		},
		Security: SecurityConfig{
			CredentialStorage: string(SecurityPlainText),
		},
		ListenAddr: "127.0.0.1:8765",
	}
}

func GenerateSystemConfigTemplate() string {
	return `# ASKD System Configuration
# Location: ~/.config/askd/settings.toml
# This file uses TOML format: https://toml.io

# Directory where conversation state and user config are stored
data_directory = "~/.local/share/askd"
`
}

func GenerateUserConfigTemplate() string {
	return `# ASKD User Configuration
# Location: <data_directory>/config.toml
# This file uses TOML format: https://toml.io

# Backend used when the host does not name one
default_backend = "openai"

# Address the websocket event channel listens on
listen_addr = "127.0.0.1:8765"

[[backends]]
id = "openai"
name = "OpenAI"
base_url = "https://api.openai.com/v1"
default_model = "gpt-4o-mini"
enabled = true

# Remote tool servers (one [[tool_servers]] block per server)
# [[tool_servers]]
# name = "my-tools"
# server_url = "http://localhost:3000/mcp"

[search]
endpoint = "https://open.bigmodel.cn/api/paas/v4/web_search"
credential_id = "search"

[media]
endpoint = "https://dashscope.aliyuncs.com/compatible-mode/v1"
model = "qwen-vl-plus"
credential_id = "qwen"

[security]
# "plaintext" or "ssh_key"
credential_storage = "plaintext"
`
}
