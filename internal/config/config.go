// Package config loads and validates converter configuration via Viper.
//
// Values come from, in decreasing precedence: the process environment, a
// dotenv settings file, an optional YAML/TOML/JSON config file and the
// built-in defaults. The flat environment names used by earlier releases
// (ENABLE_OCR, OUTPUT_DIR, ...) remain supported next to DOCKLING_ names.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/dockling/internal/conversion"
	"github.com/JakeFAU/dockling/internal/worker"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const envPrefix = "DOCKLING"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	OCR         OCRConfig         `mapstructure:"ocr"`
	Tables      TablesConfig      `mapstructure:"tables"`
	Images      ImagesConfig      `mapstructure:"images"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Conversion  ConversionConfig  `mapstructure:"conversion"`
	Paths       PathsConfig       `mapstructure:"paths"`
	Accelerator AcceleratorConfig `mapstructure:"accelerator"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Server      ServerConfig      `mapstructure:"server"`
	History     HistoryConfig     `mapstructure:"history"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// OCRConfig controls text recognition.
type OCRConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Engine    string   `mapstructure:"engine"`
	Languages []string `mapstructure:"languages"`
}

// TablesConfig controls table structure recognition.
type TablesConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mode    string `mapstructure:"mode"`
}

// ImagesConfig controls picture extraction and description.
type ImagesConfig struct {
	Generate bool    `mapstructure:"generate"`
	Scale    float64 `mapstructure:"scale"`
	Describe bool    `mapstructure:"describe"`
	Prompt   string  `mapstructure:"prompt"`
}

// OpenAIConfig configures the OpenAI-compatible API used for picture descriptions.
type OpenAIConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	Seed           int     `mapstructure:"seed"`
	RemoteServices bool    `mapstructure:"remote_services"`
}

// ConversionConfig holds per-run limits.
type ConversionConfig struct {
	MaxNumPages     int   `mapstructure:"max_num_pages"`
	MaxFileSize     int64 `mapstructure:"max_file_size"`
	MaxFiles        int   `mapstructure:"max_files"`
	ContinueOnError bool  `mapstructure:"continue_on_error"`
}

// PathsConfig names the default input and output directories.
type PathsConfig struct {
	InputDir  string `mapstructure:"input_dir"`
	OutputDir string `mapstructure:"output_dir"`
}

// AcceleratorConfig selects the hardware used by the conversion engine.
type AcceleratorConfig struct {
	Device     string `mapstructure:"device"`
	NumThreads int    `mapstructure:"num_threads"`
}

// EngineConfig selects and configures the conversion engine.
type EngineConfig struct {
	Kind           string  `mapstructure:"kind"`
	URL            string  `mapstructure:"url"`
	APIKey         string  `mapstructure:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RPS            float64 `mapstructure:"rps"`
	Burst          int     `mapstructure:"burst"`
	// Retries is how many times a request that failed in transport or with a
	// 5xx status is sent again.
	Retries     int `mapstructure:"retries"`
	RetryWaitMs int `mapstructure:"retry_wait_ms"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HistoryConfig selects the run history store. An empty DSN keeps history in memory.
type HistoryConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ProgressConfig tunes the owner-side polling loop.
type ProgressConfig struct {
	PollIntervalMs  int `mapstructure:"poll_interval_ms"`
	SinkTimeoutMs   int `mapstructure:"sink_timeout_ms"`
	StatusLogBuffer int `mapstructure:"status_log_buffer"`
	// PubSubTopic, when set, receives a summary of every finished run.
	PubSubTopic string `mapstructure:"pubsub_topic"`
	// PubSubProject defaults to the project of the ambient credentials.
	PubSubProject string `mapstructure:"pubsub_project"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps config keys onto the flat settings-file names.
var legacyEnv = []struct {
	key string
	env string
}{
	{"ocr.enabled", "ENABLE_OCR"},
	{"ocr.engine", "OCR_ENGINE"},
	{"ocr.languages", "OCR_LANGUAGES"},
	{"tables.enabled", "ENABLE_TABLE_STRUCTURE"},
	{"tables.mode", "TABLE_STRUCTURE_MODE"},
	{"images.generate", "GENERATE_PICTURE_IMAGES"},
	{"images.scale", "IMAGES_SCALE"},
	{"images.describe", "ENABLE_PICTURE_DESCRIPTION"},
	{"images.prompt", "PICTURE_DESCRIPTION_PROMPT"},
	{"openai.enabled", "USE_OPENAI_API"},
	{"openai.api_key", "OPENAI_API_KEY"},
	{"openai.base_url", "OPENAI_BASE_URL"},
	{"openai.model", "OPENAI_MODEL_NAME"},
	{"openai.timeout_seconds", "OPENAI_TIMEOUT"},
	{"openai.max_tokens", "OPENAI_MAX_TOKENS"},
	{"openai.temperature", "OPENAI_TEMPERATURE"},
	{"openai.seed", "OPENAI_SEED"},
	{"openai.remote_services", "ENABLE_REMOTE_SERVICES"},
	{"conversion.max_num_pages", "MAX_NUM_PAGES"},
	{"conversion.max_file_size", "MAX_FILE_SIZE"},
	{"conversion.continue_on_error", "CONTINUE_ON_ERROR"},
	{"paths.input_dir", "INPUT_DIR"},
	{"paths.output_dir", "OUTPUT_DIR"},
	{"accelerator.device", "ACCELERATOR_DEVICE"},
	{"accelerator.num_threads", "ACCELERATOR_NUM_THREADS"},
}

var prefixedOnly = []string{
	"conversion.max_files",
	"engine.kind",
	"engine.url",
	"engine.api_key",
	"engine.timeout_seconds",
	"engine.rps",
	"engine.burst",
	"engine.retries",
	"engine.retry_wait_ms",
	"server.port",
	"server.api_key",
	"server.timeout_seconds",
	"history.dsn",
	"history.table",
	"progress.poll_interval_ms",
	"progress.sink_timeout_ms",
	"progress.status_log_buffer",
	"progress.pubsub_topic",
	"progress.pubsub_project",
	"logging.development",
}

// Load builds a Config from the defaults, the optional config file at
// path, the optional dotenv file at envFile and the environment. A missing
// envFile is not an error.
func Load(path, envFile string) (Config, error) {
	v, err := newViper(path, envFile, os.LookupEnv)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Default returns the built-in defaults.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	cfg.normalize()
	return cfg
}

func newViper(path, envFile string, lookup func(string) (string, bool)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if envFile != "" {
		if err := applyDotenv(v, envFile, lookup); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func bindEnv(v *viper.Viper) error {
	for _, entry := range legacyEnv {
		if err := v.BindEnv(entry.key, prefixedName(entry.key), entry.env); err != nil {
			return fmt.Errorf("bind env %s: %w", entry.key, err)
		}
	}
	for _, key := range prefixedOnly {
		if err := v.BindEnv(key, prefixedName(key)); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// applyDotenv overlays dotenv values for keys the process environment does
// not already set, so real environment variables always win.
func applyDotenv(v *viper.Viper, envFile string, lookup func(string) (string, bool)) error {
	values, err := godotenv.Read(envFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read env file %s: %w", envFile, err)
	}
	for _, entry := range legacyEnv {
		setFromDotenv(v, values, lookup, entry.key, prefixedName(entry.key), entry.env)
	}
	for _, key := range prefixedOnly {
		setFromDotenv(v, values, lookup, key, prefixedName(key))
	}
	return nil
}

func setFromDotenv(v *viper.Viper, values map[string]string, lookup func(string) (string, bool), key string, names ...string) {
	for _, name := range names {
		if _, ok := lookup(name); ok {
			return
		}
	}
	for _, name := range names {
		if raw, ok := values[name]; ok {
			v.Set(key, raw)
			return
		}
	}
}

func prefixedName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.engine", "easyocr")
	v.SetDefault("ocr.languages", []string{"rus", "eng"})
	v.SetDefault("tables.enabled", true)
	v.SetDefault("tables.mode", "accurate")
	v.SetDefault("images.generate", true)
	v.SetDefault("images.scale", 2.0)
	v.SetDefault("images.describe", false)
	v.SetDefault("images.prompt", "Describe this image.")
	v.SetDefault("openai.enabled", false)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openai.model", "x-ai/grok-4-fast")
	v.SetDefault("openai.timeout_seconds", 300)
	v.SetDefault("openai.max_tokens", 400)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.seed", 42)
	v.SetDefault("openai.remote_services", true)
	v.SetDefault("conversion.max_num_pages", 0)
	v.SetDefault("conversion.max_file_size", 52428800)
	v.SetDefault("conversion.max_files", 0)
	v.SetDefault("conversion.continue_on_error", true)
	v.SetDefault("paths.input_dir", "input")
	v.SetDefault("paths.output_dir", "output")
	v.SetDefault("accelerator.device", "cuda")
	v.SetDefault("accelerator.num_threads", 0)
	v.SetDefault("engine.kind", "auto")
	v.SetDefault("engine.url", "http://localhost:5001")
	v.SetDefault("engine.api_key", "")
	v.SetDefault("engine.timeout_seconds", 600)
	v.SetDefault("engine.rps", 0)
	v.SetDefault("engine.burst", 1)
	v.SetDefault("engine.retries", 2)
	v.SetDefault("engine.retry_wait_ms", 500)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("history.dsn", "")
	v.SetDefault("history.table", "conversion_runs")
	v.SetDefault("progress.poll_interval_ms", 100)
	v.SetDefault("progress.sink_timeout_ms", 10000)
	v.SetDefault("progress.status_log_buffer", 200)
	v.SetDefault("progress.pubsub_topic", "")
	v.SetDefault("progress.pubsub_project", "")
	v.SetDefault("logging.development", true)
}

func (c *Config) normalize() {
	langs := make([]string, 0, len(c.OCR.Languages))
	for _, raw := range c.OCR.Languages {
		for _, lang := range strings.Split(raw, ",") {
			if lang = strings.TrimSpace(lang); lang != "" {
				langs = append(langs, lang)
			}
		}
	}
	c.OCR.Languages = langs
	c.OCR.Engine = strings.ToLower(strings.TrimSpace(c.OCR.Engine))
	c.Tables.Mode = strings.ToLower(strings.TrimSpace(c.Tables.Mode))
	c.Accelerator.Device = strings.ToLower(strings.TrimSpace(c.Accelerator.Device))
	c.Engine.Kind = strings.ToLower(strings.TrimSpace(c.Engine.Kind))
}

// Validate enforces required values and reasonable limits. All problems
// are reported together.
func (c Config) Validate() error {
	var errs []error
	if c.PictureDescriptionRequested() && strings.TrimSpace(c.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("openai.api_key is required when OpenAI API features are enabled"))
	}
	if c.OpenAI.Enabled && strings.TrimSpace(c.OpenAI.BaseURL) == "" {
		errs = append(errs, errors.New("openai.base_url must be set when the OpenAI API is enabled"))
	}
	if c.Images.Scale <= 0 {
		errs = append(errs, errors.New("images.scale must be > 0"))
	}
	if c.OpenAI.MaxTokens <= 0 {
		errs = append(errs, errors.New("openai.max_tokens must be > 0"))
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("openai.timeout_seconds must be > 0"))
	}
	if c.Accelerator.NumThreads < 0 {
		errs = append(errs, errors.New("accelerator.num_threads cannot be negative"))
	}
	if c.Conversion.MaxFileSize < 0 {
		errs = append(errs, errors.New("conversion.max_file_size cannot be negative"))
	}
	if c.Conversion.MaxNumPages < 0 {
		errs = append(errs, errors.New("conversion.max_num_pages cannot be negative"))
	}
	if c.Conversion.MaxFiles < 0 {
		errs = append(errs, errors.New("conversion.max_files cannot be negative"))
	}
	if !oneOf(c.OCR.Engine, "easyocr", "tesseract") {
		errs = append(errs, fmt.Errorf("ocr.engine %q must be easyocr or tesseract", c.OCR.Engine))
	}
	if !oneOf(c.Tables.Mode, "fast", "accurate") {
		errs = append(errs, fmt.Errorf("tables.mode %q must be fast or accurate", c.Tables.Mode))
	}
	if !oneOf(c.Accelerator.Device, "auto", "cpu", "cuda", "gpu", "mps") {
		errs = append(errs, fmt.Errorf("accelerator.device %q must be one of auto, cpu, cuda, gpu, mps", c.Accelerator.Device))
	}
	if !oneOf(c.Engine.Kind, "docling-serve", "passthrough", "auto") {
		errs = append(errs, fmt.Errorf("engine.kind %q must be docling-serve, passthrough or auto", c.Engine.Kind))
	}
	if c.Engine.Kind != "passthrough" && strings.TrimSpace(c.Engine.URL) == "" {
		errs = append(errs, errors.New("engine.url must be set for the docling-serve engine"))
	}
	if c.Engine.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("engine.timeout_seconds cannot be negative"))
	}
	if c.Engine.Retries < 0 {
		errs = append(errs, errors.New("engine.retries cannot be negative"))
	}
	if c.Engine.RetryWaitMs < 0 {
		errs = append(errs, errors.New("engine.retry_wait_ms cannot be negative"))
	}
	if c.Progress.PollIntervalMs <= 0 {
		errs = append(errs, errors.New("progress.poll_interval_ms must be > 0"))
	}
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Server.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.timeout_seconds must be > 0"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func oneOf(value string, allowed ...string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

// PictureDescriptionRequested reports whether either switch asks for picture descriptions.
func (c Config) PictureDescriptionRequested() bool {
	return c.Images.Describe || c.OpenAI.Enabled
}

// ConversionOptions returns the engine options for one run. Slices are copied.
func (c Config) ConversionOptions() conversion.Options {
	return conversion.Options{
		OCR: conversion.OCROptions{
			Enabled:   c.OCR.Enabled,
			Engine:    c.OCR.Engine,
			Languages: append([]string(nil), c.OCR.Languages...),
		},
		Tables: conversion.TableOptions{
			Enabled: c.Tables.Enabled,
			Mode:    c.Tables.Mode,
		},
		GeneratePictures: c.Images.Generate,
		ImagesScale:      c.Images.Scale,
		PictureDescription: conversion.PictureDescriptionOptions{
			Enabled:        c.PictureDescriptionRequested() && c.OpenAI.APIKey != "",
			BaseURL:        c.OpenAI.BaseURL,
			APIKey:         c.OpenAI.APIKey,
			Model:          c.OpenAI.Model,
			Prompt:         c.Images.Prompt,
			TimeoutSeconds: c.OpenAI.TimeoutSeconds,
			MaxTokens:      c.OpenAI.MaxTokens,
			Temperature:    c.OpenAI.Temperature,
			Seed:           c.OpenAI.Seed,
		},
		RemoteServices:     c.OpenAI.RemoteServices,
		MaxNumPages:        c.Conversion.MaxNumPages,
		MaxFileSize:        c.Conversion.MaxFileSize,
		AcceleratorDevice:  c.Accelerator.Device,
		AcceleratorThreads: c.Accelerator.NumThreads,
	}
}

// RunOptions freezes the job driver options for one run writing to outputDir.
// An empty outputDir falls back to paths.output_dir.
func (c Config) RunOptions(outputDir string) worker.Options {
	if outputDir == "" {
		outputDir = c.Paths.OutputDir
	}
	return worker.Options{
		OutputDir:       outputDir,
		ContinueOnError: c.Conversion.ContinueOnError,
		Conversion:      c.ConversionOptions(),
	}
}

// PollInterval returns the owner polling cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Progress.PollIntervalMs) * time.Millisecond
}

// SinkTimeout returns the per-sink dispatch timeout.
func (c Config) SinkTimeout() time.Duration {
	return time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond
}

// RequestTimeout bounds each HTTP API request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// EngineRetryWait returns the pause before the first engine retry.
func (c Config) EngineRetryWait() time.Duration {
	return time.Duration(c.Engine.RetryWaitMs) * time.Millisecond
}

// EngineTimeout returns the per-request engine timeout.
func (c Config) EngineTimeout() time.Duration {
	return time.Duration(c.Engine.TimeoutSeconds) * time.Second
}

// Masked returns a copy safe to print: API keys keep their first 8 characters.
func (c Config) Masked() Config {
	masked := c
	masked.OCR.Languages = append([]string(nil), c.OCR.Languages...)
	masked.OpenAI.APIKey = maskSecret(c.OpenAI.APIKey)
	masked.Engine.APIKey = maskSecret(c.Engine.APIKey)
	masked.Server.APIKey = maskSecret(c.Server.APIKey)
	masked.History.DSN = maskSecret(c.History.DSN)
	return masked
}

func maskSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "..."
}
