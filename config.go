package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ModelCost struct {
	InputPerK  float64 `yaml:"input_per_k"`
	OutputPerK float64 `yaml:"output_per_k"`
}

type Config struct {
	DBPath string `yaml:"db_path"`

	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`

	L2Model        string               `yaml:"l2_model"`
	L3Model        string               `yaml:"l3_model"`
	FallbackModels []string             `yaml:"fallback_models"`
	ModelCosts     map[string]ModelCost `yaml:"model_costs"`

	MaxChunkChars     int `yaml:"max_chunk_chars"`
	RequestsPerMinute int `yaml:"requests_per_minute"`

	AutoPassThreshold float64 `yaml:"auto_pass_threshold"`
	MinPairHistory    int     `yaml:"min_pair_history"`
	PenaltyCritical   float64 `yaml:"penalty_critical"`
	PenaltyMajor      float64 `yaml:"penalty_major"`
	PenaltyMinor      float64 `yaml:"penalty_minor"`

	ScanSchedule string `yaml:"scan_schedule"`
	RunL3        bool   `yaml:"run_l3"`

	SlackBotToken   string `yaml:"slack_bot_token"`
	NotifyChannelID string `yaml:"notify_channel_id"`
	Timezone        string `yaml:"timezone"`
}

const defaultL2Model = "claude-3-5-haiku-20241022"
const defaultL3Model = "claude-sonnet-4-5-20250929"

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.L2Model, "L2_MODEL")
	envOverride(&cfg.L3Model, "L3_MODEL")
	envOverrideInt(&cfg.MaxChunkChars, "MAX_CHUNK_CHARS")
	envOverrideInt(&cfg.RequestsPerMinute, "REQUESTS_PER_MINUTE")
	envOverrideFloat(&cfg.AutoPassThreshold, "AUTO_PASS_THRESHOLD")
	envOverrideInt(&cfg.MinPairHistory, "MIN_PAIR_HISTORY")
	envOverride(&cfg.ScanSchedule, "SCAN_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.NotifyChannelID, "NOTIFY_CHANNEL_ID")
	envOverride(&cfg.Timezone, "TIMEZONE")

	if models := os.Getenv("FALLBACK_MODELS"); models != "" {
		cfg.FallbackModels = nil
		for _, name := range strings.Split(models, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.FallbackModels = append(cfg.FallbackModels, name)
			}
		}
	}

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./qabot.db"
	}
	if cfg.L2Model == "" {
		cfg.L2Model = defaultL2Model
	}
	if cfg.L3Model == "" {
		cfg.L3Model = defaultL3Model
	}
	if cfg.MaxChunkChars == 0 {
		cfg.MaxChunkChars = 12000
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.AutoPassThreshold == 0 {
		cfg.AutoPassThreshold = 95
	}
	if cfg.MinPairHistory == 0 {
		cfg.MinPairHistory = 10
	}
	if cfg.PenaltyCritical == 0 {
		cfg.PenaltyCritical = 10
	}
	if cfg.PenaltyMajor == 0 {
		cfg.PenaltyMajor = 5
	}
	if cfg.PenaltyMinor == 0 {
		cfg.PenaltyMinor = 1
	}
	if cfg.ScanSchedule == "" {
		cfg.ScanSchedule = "@every 5m"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.ModelCosts == nil {
		cfg.ModelCosts = map[string]ModelCost{}
	}
	if _, ok := cfg.ModelCosts[defaultL2Model]; !ok {
		cfg.ModelCosts[defaultL2Model] = ModelCost{InputPerK: 0.0008, OutputPerK: 0.004}
	}
	if _, ok := cfg.ModelCosts[defaultL3Model]; !ok {
		cfg.ModelCosts[defaultL3Model] = ModelCost{InputPerK: 0.003, OutputPerK: 0.015}
	}
	if _, ok := cfg.ModelCosts["gpt-4o-mini"]; !ok {
		cfg.ModelCosts["gpt-4o-mini"] = ModelCost{InputPerK: 0.00015, OutputPerK: 0.0006}
	}

	// Validate required fields
	needAnthropic := modelProvider(cfg.L2Model) == "anthropic" || modelProvider(cfg.L3Model) == "anthropic"
	needOpenAI := modelProvider(cfg.L2Model) == "openai" || modelProvider(cfg.L3Model) == "openai"
	for _, fb := range cfg.FallbackModels {
		switch modelProvider(fb) {
		case "anthropic":
			needAnthropic = true
		case "openai":
			needOpenAI = true
		}
	}
	if needAnthropic && cfg.AnthropicAPIKey == "" {
		log.Fatalf("anthropic_api_key is required for model '%s'", cfg.L2Model)
	}
	if needOpenAI && cfg.OpenAIAPIKey == "" {
		log.Fatalf("openai_api_key is required when an OpenAI model is configured")
	}
	if cfg.MaxChunkChars < 1000 {
		log.Fatalf("invalid max_chunk_chars '%d': must be >= 1000", cfg.MaxChunkChars)
	}
	if cfg.RequestsPerMinute < 0 {
		log.Fatalf("invalid requests_per_minute '%d': must be >= 0", cfg.RequestsPerMinute)
	}
	if cfg.AutoPassThreshold < 0 || cfg.AutoPassThreshold > 100 {
		log.Fatalf("invalid auto_pass_threshold '%f': must be between 0 and 100", cfg.AutoPassThreshold)
	}
	if cfg.MinPairHistory < 1 {
		log.Fatalf("invalid min_pair_history '%d': must be >= 1", cfg.MinPairHistory)
	}

	if strings.EqualFold(cfg.Timezone, "Local") {
		cfg.Timezone = time.Local.String()
	} else {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		time.Local = loc
	}

	return cfg
}

func (c Config) CostFor(model string) ModelCost {
	return c.ModelCosts[model]
}

func (c Config) DefaultWeights() PenaltyWeights {
	return PenaltyWeights{Critical: c.PenaltyCritical, Major: c.PenaltyMajor, Minor: c.PenaltyMinor}
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
