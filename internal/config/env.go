package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

// envOverrides are the settings that may come from the process environment
// or a .env file. Unset variables leave the file configuration alone.
type envOverrides struct {
	LogLevel       string `env:"AIHUB_LOG_LEVEL"`
	DataDir        string `env:"AIHUB_DATA_DIR"`
	OllamaURL      string `env:"AIHUB_OLLAMA_URL"`
	DefaultModel   string `env:"AIHUB_DEFAULT_MODEL"`
	VisionModel    string `env:"AIHUB_VISION_MODEL"`
	WhisperURL     string `env:"AIHUB_WHISPER_URL"`
	ComfyUIURL     string `env:"AIHUB_COMFYUI_URL"`
	OpenWebUIURL   string `env:"AIHUB_OPENWEBUI_URL"`
	TelegramToken  string `env:"AIHUB_TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"AIHUB_TELEGRAM_CHAT_ID"`
	APIPort        int    `env:"AIHUB_API_PORT"`
	DBPath         string `env:"AIHUB_DB_PATH"`
}

// ApplyEnv loads the given .env files (missing files are skipped) and then
// overlays AIHUB_* variables onto cfg. Variables already set in the process
// win over .env values.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parsing env config: %w", err)
	}

	setString(&cfg.General.LogLevel, o.LogLevel)
	setString(&cfg.General.DataDir, ExpandPath(o.DataDir))
	setString(&cfg.Backends.Ollama.APIBase, o.OllamaURL)
	setString(&cfg.Backends.Ollama.DefaultModel, o.DefaultModel)
	setString(&cfg.Backends.Ollama.VisionModel, o.VisionModel)
	setString(&cfg.Backends.Whisper.APIBase, o.WhisperURL)
	setString(&cfg.Backends.ComfyUI.APIBase, o.ComfyUIURL)
	setString(&cfg.Backends.OpenWebUI.APIBase, o.OpenWebUIURL)
	setString(&cfg.Store.DBPath, ExpandPath(o.DBPath))

	if o.TelegramToken != "" {
		cfg.Notify.Telegram.Token = o.TelegramToken
		cfg.Notify.Telegram.Enabled = true
	}
	if o.TelegramChatID != 0 {
		cfg.Notify.Telegram.ChatID = o.TelegramChatID
	}
	if o.APIPort != 0 {
		cfg.API.Port = o.APIPort
		cfg.API.Enabled = true
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
