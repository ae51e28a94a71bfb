package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file. DOCGEN_CONFIG overrides it.
var ConfigPath = "config.yaml"

func init() {
	if v := strings.TrimSpace(os.Getenv("DOCGEN_CONFIG")); v != "" {
		ConfigPath = v
	}
}

// FileConfig represents configuration loaded from YAML and the environment.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
	Debug    bool   `yaml:"debug"`

	GeminiAPIKey       string `yaml:"geminiApiKey"`
	GeminiModel        string `yaml:"geminiModel"`
	OpenAIAPIKey       string `yaml:"openaiApiKey"`
	OpenAIModel        string `yaml:"openaiModel"`
	OpenRouterAPIKey   string `yaml:"openrouterApiKey"`
	OpenRouterModel    string `yaml:"openrouterModel"`
	OpenRouterAppURL   string `yaml:"openrouterAppURL"`
	OpenRouterAppTitle string `yaml:"openrouterAppTitle"`
	OllamaBaseURL      string `yaml:"ollamaBaseURL"`
	OllamaModel        string `yaml:"ollamaModel"`
	DefaultProvider    string `yaml:"defaultProvider"`

	MaxFileSizeMB            int `yaml:"maxFileSizeMB"`
	MaxFilesPerUpload        int `yaml:"maxFilesPerUpload"`
	UploadRetentionSeconds   int `yaml:"uploadRetentionSeconds"`
	JobRetentionSeconds      int `yaml:"jobRetentionSeconds"`
	SweepIntervalSeconds     int `yaml:"sweepIntervalSeconds"`
	GenerationTimeoutSeconds int `yaml:"generationTimeoutSeconds"`
	RenderMaxChars           int `yaml:"renderMaxChars"`
	ExtractConcurrency       int `yaml:"extractConcurrency"`

	TempDir string `yaml:"tempDir"`

	OCRCommand     string  `yaml:"ocrCommand"`
	OCRLang        string  `yaml:"ocrLang"`
	OCRTessdataDir string  `yaml:"ocrTessdataDir"`
	OCRMaxPages    int     `yaml:"ocrMaxPages"`
	OCRDPI         float64 `yaml:"ocrDPI"`

	CORSOrigins        []string `yaml:"corsOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCIDRs"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`

	ArtifactBackend string `yaml:"artifactBackend"`
	MinioEndpoint   string `yaml:"minioEndpoint"`
	MinioAccessKey  string `yaml:"minioAccessKey"`
	MinioSecretKey  string `yaml:"minioSecretKey"`
	MinioBucket     string `yaml:"minioBucket"`
	MinioPrefix     string `yaml:"minioPrefix"`
	MinioUseSSL     bool   `yaml:"minioUseSSL"`

	AMQPURL      string `yaml:"amqpURL"`
	AMQPExchange string `yaml:"amqpExchange"`
}

// Load reads config from path, then .env, then the process environment.
// A missing config file is not an error; every setting has an environment
// variable.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	// Variables already set in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setBool(&cfg.Debug, "DEBUG")

	setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setString(&cfg.GeminiModel, "GEMINI_MODEL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.OpenRouterAPIKey, "OPENROUTER_API_KEY")
	setString(&cfg.OpenRouterModel, "OPENROUTER_MODEL")
	setString(&cfg.OpenRouterAppURL, "OPENROUTER_APP_URL")
	setString(&cfg.OpenRouterAppTitle, "OPENROUTER_APP_TITLE")
	setString(&cfg.OllamaBaseURL, "OLLAMA_BASE_URL")
	setString(&cfg.OllamaModel, "OLLAMA_MODEL")
	setString(&cfg.DefaultProvider, "DEFAULT_PROVIDER")

	setInt(&cfg.MaxFileSizeMB, "MAX_FILE_SIZE_MB")
	setInt(&cfg.MaxFilesPerUpload, "MAX_FILES_PER_UPLOAD")
	setInt(&cfg.UploadRetentionSeconds, "UPLOAD_RETENTION_SECONDS")
	setInt(&cfg.JobRetentionSeconds, "JOB_RETENTION_SECONDS")
	setInt(&cfg.SweepIntervalSeconds, "SWEEP_INTERVAL_SECONDS")
	setInt(&cfg.GenerationTimeoutSeconds, "GENERATION_TIMEOUT_SECONDS")
	setInt(&cfg.RenderMaxChars, "RENDER_MAX_CHARS")
	setInt(&cfg.ExtractConcurrency, "EXTRACT_CONCURRENCY")
	setString(&cfg.TempDir, "TEMP_DIR")

	setString(&cfg.OCRCommand, "OCR_COMMAND")
	setString(&cfg.OCRLang, "OCR_LANG")
	setString(&cfg.OCRTessdataDir, "OCR_TESSDATA_DIR")
	setInt(&cfg.OCRMaxPages, "OCR_MAX_PAGES")
	if v := os.Getenv("OCR_DPI"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.OCRDPI = n
		}
	}

	setList(&cfg.CORSOrigins, "CORS_ORIGINS")
	setList(&cfg.TrustedProxyCIDRs, "TRUSTED_PROXY_CIDRS")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setInt(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE")

	setString(&cfg.ArtifactBackend, "ARTIFACT_BACKEND")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	setString(&cfg.MinioPrefix, "MINIO_PREFIX")
	setBool(&cfg.MinioUseSSL, "MINIO_USE_SSL")

	setString(&cfg.AMQPURL, "AMQP_URL")
	setString(&cfg.AMQPExchange, "AMQP_EXCHANGE")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = 50
	}
	if cfg.MaxFilesPerUpload == 0 {
		cfg.MaxFilesPerUpload = 10
	}
	if cfg.UploadRetentionSeconds == 0 {
		cfg.UploadRetentionSeconds = 3600
	}
	if cfg.JobRetentionSeconds == 0 {
		cfg.JobRetentionSeconds = 86400
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 300
	}
	if cfg.GenerationTimeoutSeconds == 0 {
		cfg.GenerationTimeoutSeconds = 120
	}
	if cfg.TempDir == "" {
		cfg.TempDir = "temp"
	}
	cfg.ArtifactBackend = strings.ToLower(strings.TrimSpace(cfg.ArtifactBackend))
	if cfg.ArtifactBackend == "" {
		cfg.ArtifactBackend = "file"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	providers := cfg.Providers()
	if len(providers) == 0 {
		return errors.New("config: at least one AI provider is required (GEMINI_API_KEY, OPENAI_API_KEY, OPENROUTER_API_KEY or OLLAMA_BASE_URL)")
	}
	if cfg.DefaultProvider != "" {
		found := false
		for _, p := range providers {
			if p == cfg.DefaultProvider {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("config: defaultProvider %q is not configured", cfg.DefaultProvider)
		}
	}
	if cfg.MaxFileSizeMB < 0 {
		return errors.New("config: maxFileSizeMB must be > 0")
	}
	if cfg.MaxFilesPerUpload < 0 {
		return errors.New("config: maxFilesPerUpload must be > 0")
	}
	if cfg.UploadRetentionSeconds < 0 || cfg.JobRetentionSeconds < 0 {
		return errors.New("config: retention seconds must be > 0")
	}
	if cfg.SweepIntervalSeconds < 0 {
		return errors.New("config: sweepIntervalSeconds must be > 0")
	}
	if cfg.GenerationTimeoutSeconds < 0 {
		return errors.New("config: generationTimeoutSeconds must be > 0")
	}
	if cfg.RateLimitPerMinute < 0 {
		return errors.New("config: rateLimitPerMinute must be >= 0")
	}
	if cfg.RateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when rateLimitPerMinute > 0 (set in config.yaml or REDIS_ADDR)")
	}
	switch cfg.ArtifactBackend {
	case "file":
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minio backend requires MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET")
		}
	default:
		return fmt.Errorf("config: artifactBackend %q must be file or minio", cfg.ArtifactBackend)
	}
	if cfg.OCRMaxPages < 0 {
		return errors.New("config: ocrMaxPages must be >= 0")
	}
	if cfg.OCRDPI < 0 {
		return errors.New("config: ocrDPI must be >= 0")
	}
	return nil
}

// Providers lists the configured AI providers in preference order.
func (c FileConfig) Providers() []string {
	var out []string
	if strings.TrimSpace(c.GeminiAPIKey) != "" {
		out = append(out, "gemini")
	}
	if strings.TrimSpace(c.OpenAIAPIKey) != "" {
		out = append(out, "openai")
	}
	if strings.TrimSpace(c.OpenRouterAPIKey) != "" {
		out = append(out, "openrouter")
	}
	if strings.TrimSpace(c.OllamaBaseURL) != "" {
		out = append(out, "ollama")
	}
	return out
}

func (c FileConfig) MaxFileBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

func (c FileConfig) UploadRetention() time.Duration {
	return time.Duration(c.UploadRetentionSeconds) * time.Second
}

func (c FileConfig) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionSeconds) * time.Second
}

func (c FileConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c FileConfig) GenerationTimeout() time.Duration {
	return time.Duration(c.GenerationTimeoutSeconds) * time.Second
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
