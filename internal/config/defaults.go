package config

const EnvAPIKey = "OPENAI_API_KEY"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace: ".",
			LogLevel:  "info",
		},
		Provider: ProviderConfig{
			Name:           "openai",
			APIBase:        "https://api.openai.com/v1",
			APIKey:         "${" + EnvAPIKey + "}",
			Model:          "gpt-4",
			TimeoutSeconds: 120,
		},
		Tools: ToolsConfig{
			Shell: ShellToolConfig{
				Timeout: 0,
			},
			Snapshot: SnapshotToolConfig{
				Output:  "state.txt",
				Exclude: "venv",
				Include: defaultSnapshotInclude(),
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.cmdagent/audit.db",
			RetentionDays: 30,
		},
	}
}

func defaultSnapshotInclude() []string {
	return []string{".yml", ".txt", ".py", "Dockerfile"}
}
