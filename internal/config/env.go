package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/JakeFAU/dockling/internal/storage/local"
)

// EnvValues renders cfg under the flat settings-file names.
func EnvValues(cfg Config) map[string]string {
	return map[string]string{
		"ENABLE_OCR":                 formatBool(cfg.OCR.Enabled),
		"OCR_ENGINE":                 cfg.OCR.Engine,
		"OCR_LANGUAGES":              strings.Join(cfg.OCR.Languages, ","),
		"ENABLE_TABLE_STRUCTURE":     formatBool(cfg.Tables.Enabled),
		"TABLE_STRUCTURE_MODE":       cfg.Tables.Mode,
		"GENERATE_PICTURE_IMAGES":    formatBool(cfg.Images.Generate),
		"IMAGES_SCALE":               strconv.FormatFloat(cfg.Images.Scale, 'f', -1, 64),
		"ENABLE_PICTURE_DESCRIPTION": formatBool(cfg.Images.Describe),
		"PICTURE_DESCRIPTION_PROMPT": cfg.Images.Prompt,
		"USE_OPENAI_API":             formatBool(cfg.OpenAI.Enabled),
		"OPENAI_API_KEY":             cfg.OpenAI.APIKey,
		"OPENAI_BASE_URL":            cfg.OpenAI.BaseURL,
		"OPENAI_MODEL_NAME":          cfg.OpenAI.Model,
		"OPENAI_TIMEOUT":             strconv.Itoa(cfg.OpenAI.TimeoutSeconds),
		"OPENAI_MAX_TOKENS":          strconv.Itoa(cfg.OpenAI.MaxTokens),
		"OPENAI_TEMPERATURE":         strconv.FormatFloat(cfg.OpenAI.Temperature, 'f', -1, 64),
		"OPENAI_SEED":                strconv.Itoa(cfg.OpenAI.Seed),
		"ENABLE_REMOTE_SERVICES":     formatBool(cfg.OpenAI.RemoteServices),
		"MAX_NUM_PAGES":              strconv.Itoa(cfg.Conversion.MaxNumPages),
		"MAX_FILE_SIZE":              strconv.FormatInt(cfg.Conversion.MaxFileSize, 10),
		"CONTINUE_ON_ERROR":          formatBool(cfg.Conversion.ContinueOnError),
		"INPUT_DIR":                  cfg.Paths.InputDir,
		"OUTPUT_DIR":                 cfg.Paths.OutputDir,
		"ACCELERATOR_DEVICE":         cfg.Accelerator.Device,
		"ACCELERATOR_NUM_THREADS":    strconv.Itoa(cfg.Accelerator.NumThreads),
	}
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

// SaveEnv merges cfg into the dotenv file at path, keeping keys it does not
// manage, and replaces the file atomically.
func SaveEnv(ctx context.Context, path string, cfg Config) error {
	merged, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read env file %s: %w", path, err)
		}
		merged = map[string]string{}
	}
	for key, value := range EnvValues(cfg) {
		merged[key] = value
	}
	content, err := godotenv.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode env file: %w", err)
	}
	if err := local.WriteFile(ctx, path, strings.NewReader(content+"\n")); err != nil {
		return fmt.Errorf("write env file %s: %w", path, err)
	}
	return nil
}

// InitEnv writes a dotenv file with the defaults if path does not exist.
// It reports whether a file was created.
func InitEnv(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := SaveEnv(ctx, path, Default()); err != nil {
		return false, err
	}
	return true, nil
}
