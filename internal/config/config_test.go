package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)

	require.True(t, cfg.OCR.Enabled)
	require.Equal(t, "easyocr", cfg.OCR.Engine)
	require.Equal(t, []string{"rus", "eng"}, cfg.OCR.Languages)
	require.Equal(t, "accurate", cfg.Tables.Mode)
	require.InDelta(t, 2.0, cfg.Images.Scale, 0)
	require.Equal(t, int64(52428800), cfg.Conversion.MaxFileSize)
	require.True(t, cfg.Conversion.ContinueOnError)
	require.Equal(t, "input", cfg.Paths.InputDir)
	require.Equal(t, "output", cfg.Paths.OutputDir)
	require.Equal(t, "cuda", cfg.Accelerator.Device)
	require.Equal(t, 300, cfg.OpenAI.TimeoutSeconds)
	require.Equal(t, 400, cfg.OpenAI.MaxTokens)
	require.InDelta(t, 0.2, cfg.OpenAI.Temperature, 1e-9)
	require.Equal(t, 42, cfg.OpenAI.Seed)
	require.Equal(t, "auto", cfg.Engine.Kind)
	require.Equal(t, 100*time.Millisecond, cfg.PollInterval())
	require.Equal(t, 10*time.Second, cfg.SinkTimeout())
	require.Equal(t, 2, cfg.Engine.Retries)
	require.Equal(t, 500*time.Millisecond, cfg.EngineRetryWait())
	require.Empty(t, cfg.Progress.PubSubTopic)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
ocr:
  engine: tesseract
  languages: ["deu", "eng"]
tables:
  mode: fast
conversion:
  max_files: 25
  continue_on_error: false
engine:
  kind: docling-serve
  url: http://docling:5001
  timeout_seconds: 120
server:
  port: 9090
logging:
  development: false
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path, "")
	require.NoError(t, err)

	require.Equal(t, "tesseract", cfg.OCR.Engine)
	require.Equal(t, []string{"deu", "eng"}, cfg.OCR.Languages)
	require.Equal(t, "fast", cfg.Tables.Mode)
	require.Equal(t, 25, cfg.Conversion.MaxFiles)
	require.False(t, cfg.Conversion.ContinueOnError)
	require.Equal(t, "docling-serve", cfg.Engine.Kind)
	require.Equal(t, 2*time.Minute, cfg.EngineTimeout())
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(strings.Join([]string{
		"OCR_LANGUAGES=fra, spa",
		"OUTPUT_DIR=from-dotenv",
		"INPUT_DIR=from-dotenv",
		"MAX_FILE_SIZE=1024",
		"DOCKLING_CONVERSION_MAX_FILES=3",
		"UNRELATED=kept",
	}, "\n")), 0o600))
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("paths:\n  output_dir: from-file\n  input_dir: from-file\n"), 0o600))

	t.Setenv("INPUT_DIR", "from-env")

	cfg, err := Load(cfgFile, envFile)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Paths.InputDir)
	require.Equal(t, "from-dotenv", cfg.Paths.OutputDir)
	require.Equal(t, []string{"fra", "spa"}, cfg.OCR.Languages)
	require.Equal(t, int64(1024), cfg.Conversion.MaxFileSize)
	require.Equal(t, 3, cfg.Conversion.MaxFiles)
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("DOCKLING_SERVER_PORT", "7070")
	t.Setenv("DOCKLING_PATHS_OUTPUT_DIR", "prefixed")
	t.Setenv("CONTINUE_ON_ERROR", "false")
	t.Setenv("DOCKLING_SERVER_TIMEOUT_SECONDS", "15")
	t.Setenv("DOCKLING_ENGINE_RETRIES", "4")
	t.Setenv("DOCKLING_PROGRESS_PUBSUB_TOPIC", "conversion-runs")

	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 15*time.Second, cfg.RequestTimeout())
	require.Equal(t, "prefixed", cfg.Paths.OutputDir)
	require.False(t, cfg.Conversion.ContinueOnError)
	require.Equal(t, 4, cfg.Engine.Retries)
	require.Equal(t, "conversion-runs", cfg.Progress.PubSubTopic)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("ENABLE_PICTURE_DESCRIPTION", "true")
	t.Setenv("IMAGES_SCALE", "0")

	_, err := Load("", "")
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "openai.api_key")
	require.Contains(t, err.Error(), "images.scale")
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Default()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "api key for openai", mutate: func(c *Config) { c.OpenAI.Enabled = true }, want: "openai.api_key"},
		{name: "api key for picture description", mutate: func(c *Config) { c.Images.Describe = true }, want: "openai.api_key"},
		{name: "image scale", mutate: func(c *Config) { c.Images.Scale = -1 }, want: "images.scale"},
		{name: "max tokens", mutate: func(c *Config) { c.OpenAI.MaxTokens = 0 }, want: "openai.max_tokens"},
		{name: "openai timeout", mutate: func(c *Config) { c.OpenAI.TimeoutSeconds = 0 }, want: "openai.timeout_seconds"},
		{name: "threads", mutate: func(c *Config) { c.Accelerator.NumThreads = -1 }, want: "accelerator.num_threads"},
		{name: "file size", mutate: func(c *Config) { c.Conversion.MaxFileSize = -1 }, want: "conversion.max_file_size"},
		{name: "pages", mutate: func(c *Config) { c.Conversion.MaxNumPages = -1 }, want: "conversion.max_num_pages"},
		{name: "max files", mutate: func(c *Config) { c.Conversion.MaxFiles = -1 }, want: "conversion.max_files"},
		{name: "ocr engine", mutate: func(c *Config) { c.OCR.Engine = "paddle" }, want: "ocr.engine"},
		{name: "table mode", mutate: func(c *Config) { c.Tables.Mode = "slow" }, want: "tables.mode"},
		{name: "accelerator", mutate: func(c *Config) { c.Accelerator.Device = "tpu" }, want: "accelerator.device"},
		{name: "engine kind", mutate: func(c *Config) { c.Engine.Kind = "pandoc" }, want: "engine.kind"},
		{name: "engine url", mutate: func(c *Config) { c.Engine.URL = "" }, want: "engine.url"},
		{name: "engine retries", mutate: func(c *Config) { c.Engine.Retries = -1 }, want: "engine.retries"},
		{name: "engine retry wait", mutate: func(c *Config) { c.Engine.RetryWaitMs = -1 }, want: "engine.retry_wait_ms"},
		{name: "poll interval", mutate: func(c *Config) { c.Progress.PollIntervalMs = 0 }, want: "progress.poll_interval_ms"},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "request timeout", mutate: func(c *Config) { c.Server.TimeoutSeconds = 0 }, want: "server.timeout_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Images.Scale = 0
	cfg.OCR.Engine = "x"
	err := cfg.Validate()
	require.Error(t, err)

	var joined interface{ Unwrap() []error }
	require.True(t, errors.As(err, &joined))
	require.Contains(t, err.Error(), "images.scale")
	require.Contains(t, err.Error(), "ocr.engine")
}

func TestPassthroughNeedsNoURL(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Engine.Kind = "passthrough"
	cfg.Engine.URL = ""
	require.NoError(t, cfg.Validate())
}

func TestRunOptionsAreIndependentCopies(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.OpenAI.APIKey = "sk-abcdefgh12345"
	cfg.Images.Describe = true

	opts := cfg.RunOptions("")
	require.Equal(t, "output", opts.OutputDir)
	require.True(t, opts.ContinueOnError)
	require.True(t, opts.Conversion.PictureDescription.Enabled)
	require.Equal(t, "Describe this image.", opts.Conversion.PictureDescription.Prompt)

	opts.Conversion.OCR.Languages[0] = "mutated"
	require.Equal(t, "rus", cfg.OCR.Languages[0])
	require.Equal(t, "custom", cfg.RunOptions("custom").OutputDir)
}

func TestPictureDescriptionDisabledWithoutKey(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.OpenAI.Enabled = true
	require.False(t, cfg.ConversionOptions().PictureDescription.Enabled)
}

func TestMasked(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.OpenAI.APIKey = "sk-abcdefgh12345"
	cfg.Engine.APIKey = "short"
	cfg.Server.APIKey = "server-secret-key"

	masked := cfg.Masked()
	require.Equal(t, "server-s...", masked.Server.APIKey)
	require.Equal(t, "sk-abcde...", masked.OpenAI.APIKey)
	require.Equal(t, "***", masked.Engine.APIKey)
	require.Equal(t, "", masked.History.DSN)
	require.Equal(t, "sk-abcdefgh12345", cfg.OpenAI.APIKey)
}

func TestSaveEnvMergesExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CUSTOM_KEY=keep-me\nOUTPUT_DIR=old\n"), 0o600))

	cfg := Default()
	cfg.Paths.OutputDir = "new-output"
	cfg.OCR.Languages = []string{"deu", "eng"}
	require.NoError(t, SaveEnv(context.Background(), path, cfg))

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	require.Equal(t, "keep-me", values["CUSTOM_KEY"])
	require.Equal(t, "new-output", values["OUTPUT_DIR"])
	require.Equal(t, "deu,eng", values["OCR_LANGUAGES"])
	require.Equal(t, "true", values["CONTINUE_ON_ERROR"])
	require.Equal(t, "52428800", values["MAX_FILE_SIZE"])
}

func TestSaveEnvRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	cfg := Default()
	cfg.Tables.Mode = "fast"
	cfg.Conversion.ContinueOnError = false
	cfg.Images.Scale = 1.5
	require.NoError(t, SaveEnv(context.Background(), path, cfg))

	loaded, err := Load("", path)
	require.NoError(t, err)
	require.Equal(t, "fast", loaded.Tables.Mode)
	require.False(t, loaded.Conversion.ContinueOnError)
	require.InDelta(t, 1.5, loaded.Images.Scale, 1e-9)
}

func TestInitEnv(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".env")
	created, err := InitEnv(context.Background(), path)
	require.NoError(t, err)
	require.True(t, created)

	created, err = InitEnv(context.Background(), path)
	require.NoError(t, err)
	require.False(t, created)

	values, err := godotenv.Read(path)
	require.NoError(t, err)
	require.Equal(t, "easyocr", values["OCR_ENGINE"])
}
