package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.API.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.API.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_BackendURL(t *testing.T) {
	cfg := Defaults()
	cfg.Backends.Whisper.APIBase = "localhost:9000"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for URL without scheme")
	}

	// Disabled backends are not checked.
	cfg.Backends.Whisper.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled backend should not be validated: %v", err)
	}
}

func TestValidate_OllamaRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Backends.Ollama.Enabled = false
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when the text backend is disabled")
	}

	cfg = Defaults()
	cfg.Backends.Ollama.DefaultModel = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for empty default model")
	}
}

func TestValidate_HealthSchedule(t *testing.T) {
	for _, spec := range []string{"@every 30s", "*/5 * * * *", "@hourly"} {
		cfg := Defaults()
		cfg.Health.Schedule = spec
		if err := Validate(cfg); err != nil {
			t.Fatalf("schedule %q should be valid: %v", spec, err)
		}
	}

	cfg := Defaults()
	cfg.Health.Schedule = "every thirty seconds"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for malformed schedule")
	}
}

func TestValidate_ComfyUIPolling(t *testing.T) {
	cfg := Defaults()
	cfg.Backends.ComfyUI.PollIntervalMs = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for pollIntervalMs=0")
	}

	cfg = Defaults()
	cfg.Backends.ComfyUI.MaxWaitSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for maxWaitSeconds=0")
	}
}

func TestValidate_TelegramNeedsTokenAndChat(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for telegram without token")
	}

	cfg.Notify.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Notify.Telegram.ChatID = 42
	if err := Validate(cfg); err != nil {
		t.Fatalf("telegram with token and chat should be valid: %v", err)
	}

	cfg.Notify.Telegram.MinSeverity = "critical"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestValidate_ExportFormat(t *testing.T) {
	for _, format := range []string{"text", "html"} {
		cfg := Defaults()
		cfg.Export.Format = format
		if err := Validate(cfg); err != nil {
			t.Fatalf("format %q should be valid: %v", format, err)
		}
	}

	cfg := Defaults()
	cfg.Export.Format = "pdf"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for format=pdf")
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.Backends.Ollama.DefaultModel = "mistral:7b"
	original.Backends.ComfyUI.MaxWaitSeconds = 42

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Backends.Ollama.DefaultModel != "mistral:7b" {
		t.Fatalf("expected 'mistral:7b', got %q", loaded.Backends.Ollama.DefaultModel)
	}
	if loaded.Backends.ComfyUI.MaxWaitSeconds != 42 {
		t.Fatalf("expected 42, got %d", loaded.Backends.ComfyUI.MaxWaitSeconds)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"backends": {"whisper": {"enabled": true, "apiBase": "http://gpu-box:9000"}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backends.Whisper.APIBase != "http://gpu-box:9000" {
		t.Fatalf("expected overridden whisper URL, got %q", cfg.Backends.Whisper.APIBase)
	}
	if cfg.Backends.Ollama.APIBase != "http://localhost:11434" {
		t.Fatalf("expected default ollama URL, got %q", cfg.Backends.Ollama.APIBase)
	}
	if cfg.Health.Schedule != "@every 30s" {
		t.Fatalf("expected default schedule, got %q", cfg.Health.Schedule)
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"health": {
			"probeTimeoutSeconds": 0
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(cfgFile)
	if err == nil {
		t.Fatal("expected validation error for probeTimeoutSeconds=0")
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "backends.ollama.defaultModel")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "llama3:8b" {
		t.Fatalf("expected 'llama3:8b', got %v", val)
	}

	// Embedded backend fields are flattened.
	val, err = GetByPath(cfg, "backends.whisper.apiBase")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "http://localhost:9000" {
		t.Fatalf("expected whisper URL, got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	_, err := GetByPath(cfg, "nonexistent.path")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "backends.ollama.defaultModel", "phi3:mini"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Backends.Ollama.DefaultModel != "phi3:mini" {
		t.Fatalf("expected 'phi3:mini', got %q", cfg.Backends.Ollama.DefaultModel)
	}
}

func TestSetByPath_BoolConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "store.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Store.Enabled {
		t.Fatal("expected store.enabled=false")
	}
}

func TestSetByPath_IntConversion(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "api.port", "9999"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Fatalf("expected 9999, got %d", cfg.API.Port)
	}
}

func TestSetByPath_RejectsInvalidResultAndKeepsConfig(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "api.port", "70000"); err == nil {
		t.Fatal("expected validation error for port 70000")
	}
	if cfg.API.Port != 8090 {
		t.Fatalf("expected port to stay 8090, got %d", cfg.API.Port)
	}
	if err := SetByPath(cfg, "health.schedule", "every now and then"); err == nil {
		t.Fatal("expected validation error for a bad schedule")
	}
	if cfg.Health.Schedule != "@every 30s" {
		t.Fatalf("expected schedule to stay, got %q", cfg.Health.Schedule)
	}
}

func TestSetByPath_TypeAndPathErrors(t *testing.T) {
	cfg := Defaults()
	for path, value := range map[string]string{
		"store.enabled":        "maybe",
		"api.port":             "eighty",
		"backends.ollama":      "x",
		"backends.ollama.nope": "x",
		"api.port.inner":       "1",
		"":                     "x",
	} {
		if err := SetByPath(cfg, path, value); err == nil {
			t.Errorf("expected error setting %q to %q", path, value)
		}
	}
}

func TestSetByPath_OmittedAndEmbeddedFields(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "api.apiKey", "secret-key-123"); err != nil {
		t.Fatalf("set omitted field: %v", err)
	}
	if cfg.API.APIKey != "secret-key-123" {
		t.Fatalf("expected api key to be set, got %q", cfg.API.APIKey)
	}
	if err := SetByPath(cfg, "backends.comfyui.timeoutSeconds", "90"); err != nil {
		t.Fatalf("set embedded field: %v", err)
	}
	if cfg.Backends.ComfyUI.TimeoutSeconds != 90 {
		t.Fatalf("expected 90, got %d", cfg.Backends.ComfyUI.TimeoutSeconds)
	}
	if err := SetByPath(cfg, "notify.telegram.chatId", "-100123"); err != nil {
		t.Fatalf("set int64: %v", err)
	}
	if cfg.Notify.Telegram.ChatID != -100123 {
		t.Fatalf("expected chat id -100123, got %d", cfg.Notify.Telegram.ChatID)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.API.APIKey = "api-key-12345678"

	sanitized := Sanitize(cfg)

	if sanitized.Notify.Telegram.Token == cfg.Notify.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.API.APIKey == cfg.API.APIKey {
		t.Fatal("API key should be masked")
	}
	// Verify original is untouched
	if cfg.Notify.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := Defaults()
	cfg.Notify.Telegram.Token = "short"
	sanitized := Sanitize(cfg)
	if sanitized.Notify.Telegram.Token != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.Notify.Telegram.Token)
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	if len(paths) == 0 {
		t.Fatal("expected non-empty paths")
	}

	for _, expected := range []string{"general.logLevel", "backends.comfyui.pollIntervalMs", "health.schedule", "store.enabled", "store.probeRetentionDays"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}
}

// --- Env ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("AIHUB_TEST_VAR", "hello")
	if got := ExpandEnvVars(`"${AIHUB_TEST_VAR}"`); got != `"hello"` {
		t.Fatalf("expected substitution, got %q", got)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("AIHUB_TEST_UNSET")
	if got := ExpandEnvVars(`${AIHUB_TEST_UNSET:-fallback}`); got != "fallback" {
		t.Fatalf("expected default, got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("AIHUB_TEST_UNSET")
	input := `${AIHUB_TEST_UNSET}`
	if got := ExpandEnvVars(input); got != input {
		t.Fatalf("expected unchanged input, got %q", got)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	input := `"$HOME is not substituted"`
	result := ExpandEnvVars(input)
	if result != input {
		t.Fatalf("expected no change for bare $VAR, got %q", result)
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("AIHUB_TEST_OLLAMA", "http://10.0.0.5:11434")

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.json")
	content := `{
		"backends": {
			"ollama": {
				"enabled": true,
				"apiBase": "${AIHUB_TEST_OLLAMA}",
				"defaultModel": "llama3:8b"
			}
		}
	}`
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backends.Ollama.APIBase != "http://10.0.0.5:11434" {
		t.Fatalf("expected substituted URL, got %q", cfg.Backends.Ollama.APIBase)
	}
}

func TestApplyEnv_OverridesFromEnvironment(t *testing.T) {
	t.Setenv("AIHUB_OLLAMA_URL", "http://ollama.lan:11434")
	t.Setenv("AIHUB_API_PORT", "9191")
	t.Setenv("AIHUB_TELEGRAM_TOKEN", "123456789:token")

	cfg := Defaults()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Backends.Ollama.APIBase != "http://ollama.lan:11434" {
		t.Fatalf("expected env ollama URL, got %q", cfg.Backends.Ollama.APIBase)
	}
	if cfg.API.Port != 9191 || !cfg.API.Enabled {
		t.Fatalf("expected API enabled on 9191, got %+v", cfg.API)
	}
	if !cfg.Notify.Telegram.Enabled {
		t.Fatal("telegram token in env should enable the sink")
	}
	// Untouched values keep their defaults.
	if cfg.Backends.Whisper.APIBase != "http://localhost:9000" {
		t.Fatalf("whisper URL should be unchanged, got %q", cfg.Backends.Whisper.APIBase)
	}
}

func TestApplyEnv_DotEnvFile(t *testing.T) {
	// godotenv does not override variables that are already set.
	t.Setenv("AIHUB_COMFYUI_URL", "")
	os.Unsetenv("AIHUB_COMFYUI_URL")

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("AIHUB_COMFYUI_URL=http://render:8188\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("AIHUB_COMFYUI_URL") })

	cfg := Defaults()
	if err := ApplyEnv(cfg, envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Backends.ComfyUI.APIBase != "http://render:8188" {
		t.Fatalf("expected .env comfyui URL, got %q", cfg.Backends.ComfyUI.APIBase)
	}
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	t.Setenv("AIHUB_API_PORT", "not-a-port")
	if err := ApplyEnv(Defaults()); err == nil {
		t.Fatal("expected parse error for non-numeric port")
	}
}

// --- Defaults ---

func TestDefaults_ReturnsValidConfig(t *testing.T) {
	cfg := Defaults()
	if cfg == nil {
		t.Fatal("defaults returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should be valid: %v", err)
	}
	if cfg.Backends.Ollama.DefaultModel != "llama3:8b" {
		t.Fatalf("default model should be 'llama3:8b', got %q", cfg.Backends.Ollama.DefaultModel)
	}
	if cfg.Backends.Ollama.Timeout().Seconds() != 120 {
		t.Fatalf("expected 120s ollama timeout, got %s", cfg.Backends.Ollama.Timeout())
	}
}
