package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			DataDir:  "~/.aihub",
			LogLevel: "info",
		},
		Backends: BackendsConfig{
			Ollama: OllamaBackend{
				BackendConfig: BackendConfig{
					Enabled:        true,
					Name:           "Ollama",
					APIBase:        "http://localhost:11434",
					TimeoutSeconds: 120,
					AutoStart:      true,
				},
				DefaultModel: "llama3:8b",
			},
			Whisper: WhisperBackend{
				BackendConfig: BackendConfig{
					Enabled:        true,
					Name:           "Whisper",
					APIBase:        "http://localhost:9000",
					TimeoutSeconds: 120,
				},
				Language: "en",
			},
			ComfyUI: ComfyUIBackend{
				BackendConfig: BackendConfig{
					Enabled:        true,
					Name:           "ComfyUI",
					APIBase:        "http://localhost:8188",
					TimeoutSeconds: 30,
				},
				PollIntervalMs: 1000,
				MaxWaitSeconds: 300,
			},
			OpenWebUI: BackendConfig{
				Enabled: true,
				Name:    "Open WebUI",
				APIBase: "http://localhost:3000",
			},
		},
		Health: HealthConfig{
			Schedule:            "@every 30s",
			ProbeTimeoutSeconds: 5,
		},
		Store: StoreConfig{
			Enabled:            true,
			DBPath:             "~/.aihub/aihub.db",
			ProbeRetentionDays: 7,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8090,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				Enabled:     false,
				ParseMode:   "Markdown",
				MinSeverity: "warning",
			},
		},
		Export: ExportConfig{
			Dir:    "~/.aihub/exports",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
