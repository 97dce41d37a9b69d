package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	WeCom     WeComConfig     `json:"wecom"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Providers ProvidersConfig `json:"providers"`
	Session   SessionConfig   `json:"session"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Logging   LoggingConfig   `json:"logging"`
}

type ServerConfig struct {
	Host string `json:"host" env:"WECOPILOT_SERVER_HOST"`
	Port int    `json:"port" env:"WECOPILOT_SERVER_PORT"`
}

// WeComConfig holds the callback secret material fixed at startup.
// EncodingAESKey is the 43-char base64 key from the WeCom console.
type WeComConfig struct {
	Token          string `json:"token" env:"WECOPILOT_WECOM_TOKEN"`
	EncodingAESKey string `json:"encoding_aes_key" env:"WECOPILOT_WECOM_ENCODING_AES_KEY"`
	CorpID         string `json:"corp_id" env:"WECOPILOT_WECOM_CORP_ID"`
	AgentID        string `json:"agent_id" env:"WECOPILOT_WECOM_AGENT_ID"`
}

type KnowledgeConfig struct {
	APIURL         string `json:"api_url" env:"WECOPILOT_KNOWLEDGE_API_URL"`
	APIKey         string `json:"api_key" env:"WECOPILOT_KNOWLEDGE_API_KEY"`
	Dataset        string `json:"dataset" env:"WECOPILOT_KNOWLEDGE_DATASET"`
	TopK           int    `json:"top_k" env:"WECOPILOT_KNOWLEDGE_TOP_K"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"WECOPILOT_KNOWLEDGE_TIMEOUT_SECONDS"`
}

type ProvidersConfig struct {
	OpenAI    ProviderConfig `json:"openai"`
	Anthropic ProviderConfig `json:"anthropic"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model"`
}

type SessionConfig struct {
	MaxTurns         int    `json:"max_turns" env:"WECOPILOT_SESSION_MAX_TURNS"`
	TTLSeconds       int    `json:"ttl_seconds" env:"WECOPILOT_SESSION_TTL_SECONDS"`
	ResultTTLSeconds int    `json:"result_ttl_seconds" env:"WECOPILOT_SESSION_RESULT_TTL_SECONDS"`
	SweepSchedule    string `json:"sweep_schedule" env:"WECOPILOT_SESSION_SWEEP_SCHEDULE"`
}

type PipelineConfig struct {
	Workers                int `json:"workers" env:"WECOPILOT_PIPELINE_WORKERS"`
	QueueSize              int `json:"queue_size" env:"WECOPILOT_PIPELINE_QUEUE_SIZE"`
	MaxAttempts            int `json:"max_attempts" env:"WECOPILOT_PIPELINE_MAX_ATTEMPTS"`
	RetryBaseSeconds       int `json:"retry_base_seconds" env:"WECOPILOT_PIPELINE_RETRY_BASE_SECONDS"`
	GenerateTimeoutSeconds int `json:"generate_timeout_seconds" env:"WECOPILOT_PIPELINE_GENERATE_TIMEOUT_SECONDS"`
	BudgetSeconds          int `json:"budget_seconds" env:"WECOPILOT_PIPELINE_BUDGET_SECONDS"`

	// SuggestionMarkers overrides the line prefixes the suggestion parser
	// looks for. Empty keeps the built-in 建议N: convention.
	SuggestionMarkers []string `json:"suggestion_markers,omitempty" env:"WECOPILOT_PIPELINE_SUGGESTION_MARKERS" envSeparator:","`
}

type LoggingConfig struct {
	Level       string `json:"level" env:"WECOPILOT_LOGGING_LEVEL"`
	FileEnabled bool   `json:"file_enabled" env:"WECOPILOT_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"WECOPILOT_LOGGING_FILE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		WeCom: WeComConfig{},
		Knowledge: KnowledgeConfig{
			APIURL:         "http://localhost:9870",
			Dataset:        "customer_service",
			TopK:           5,
			TimeoutSeconds: 30,
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				Model: "gpt-4o",
			},
			Anthropic: ProviderConfig{
				Model: "claude-sonnet-4-5",
			},
		},
		Session: SessionConfig{
			MaxTurns:         10,
			TTLSeconds:       3600,
			ResultTTLSeconds: 300,
			SweepSchedule:    "*/5 * * * *",
		},
		Pipeline: PipelineConfig{
			Workers:                4,
			QueueSize:              256,
			MaxAttempts:            3,
			RetryBaseSeconds:       60,
			GenerateTimeoutSeconds: 60,
			BudgetSeconds:          300,
		},
		Logging: LoggingConfig{
			Level:       "INFO",
			FileEnabled: false,
			FilePath:    "wecopilot.log",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	applyProviderEnvOverrides(cfg)
	resolveSecretEnvRefs(cfg)

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ProviderConfig has no env tags (the struct is shared by both providers),
// so the per-provider variables are bound explicitly.
func applyProviderEnvOverrides(cfg *Config) {
	bindings := []struct {
		target *ProviderConfig
		apiKey string
		model  string
	}{
		{&cfg.Providers.OpenAI, "WECOPILOT_PROVIDERS_OPENAI_API_KEY", "WECOPILOT_PROVIDERS_OPENAI_MODEL"},
		{&cfg.Providers.Anthropic, "WECOPILOT_PROVIDERS_ANTHROPIC_API_KEY", "WECOPILOT_PROVIDERS_ANTHROPIC_MODEL"},
	}
	for _, b := range bindings {
		if v := strings.TrimSpace(os.Getenv(b.apiKey)); v != "" {
			b.target.APIKey = v
		}
		if v := strings.TrimSpace(os.Getenv(b.model)); v != "" {
			b.target.Model = v
		}
	}
}

func resolveSecretEnvRefs(cfg *Config) {
	refs := []*string{
		&cfg.WeCom.Token,
		&cfg.WeCom.EncodingAESKey,
		&cfg.Knowledge.APIKey,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.OpenAI.APIBase,
		&cfg.Providers.Anthropic.APIKey,
	}
	for _, r := range refs {
		*r = resolveEnvRef(*r)
	}
}

func resolveEnvRef(v string) string {
	s := strings.TrimSpace(v)
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		key := strings.TrimSpace(s[2 : len(s)-1])
		if key == "" {
			return v
		}
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return v
	}
	if strings.HasPrefix(s, "$") && len(s) > 1 {
		if val, ok := os.LookupEnv(strings.TrimSpace(s[1:])); ok {
			return val
		}
	}
	return v
}

func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLSeconds) * time.Second
}

func (c *Config) ResultTTL() time.Duration {
	return time.Duration(c.Session.ResultTTLSeconds) * time.Second
}

func (c *Config) KnowledgeTimeout() time.Duration {
	return time.Duration(c.Knowledge.TimeoutSeconds) * time.Second
}

func (c *Config) GenerateTimeout() time.Duration {
	return time.Duration(c.Pipeline.GenerateTimeoutSeconds) * time.Second
}

func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.Pipeline.RetryBaseSeconds) * time.Second
}

func (c *Config) PipelineBudget() time.Duration {
	return time.Duration(c.Pipeline.BudgetSeconds) * time.Second
}
