package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// MinCouncilSize is the smallest number of Stage 1 responses peer review can work with.
const MinCouncilSize = 2

// Configuration values
var (
	// Provider API keys. At least one must be set.
	OpenRouterAPIKey string
	GoogleAPIKey     string
	GroqAPIKey       string

	// CouncilModels is the list of models to query in parallel
	CouncilModels = []string{
		"openai/gpt-5.1",
		"google/gemini-3-pro-preview",
		"anthropic/claude-sonnet-4.5",
		"x-ai/grok-4",
	}

	// ChairmanModel is the model used for final synthesis
	ChairmanModel = "google/gemini-3-pro-preview"

	// TitleModel generates conversation titles
	TitleModel = "google/gemini-2.5-flash"

	// Chat-completions endpoints
	OpenRouterAPIURL = "https://openrouter.ai/api/v1/chat/completions"
	GroqAPIURL       = "https://api.groq.com/openai/v1/chat/completions"

	// DataDir is the directory for conversation storage
	DataDir = "data/conversations"

	// MongoURI switches conversation storage to MongoDB when set
	MongoURI string

	// Redis stream publishing of stage events, enabled when RedisAddr is set
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Port the HTTP server listens on
	Port = "8001"

	// Timeout constants
	ModelQueryTimeout = 120 * time.Second
	StageTimeout      = 180 * time.Second
	TitleGenTimeout   = 30 * time.Second

	// HistoryTurns is how many completed turns are replayed to Stage 1 models
	HistoryTurns = 3

	// CORS allowed origins (configurable via environment)
	// In development (empty/default), allows any localhost port
	// In production, set CORS_ALLOWED_ORIGINS environment variable
	CORSAllowedOrigins = []string{}

	// MaxRequestBodySize is the maximum allowed request body size (1MB)
	MaxRequestBodySize int64 = 1 << 20

	// ReferenceCacheTTL is how long fetched reference pages are reused
	ReferenceCacheTTL = 5 * time.Minute

	// MaxReferenceChars bounds the text kept from one reference page
	MaxReferenceChars = 20000
)

// CouncilFile is the optional YAML roster file named by COUNCIL_CONFIG.
type CouncilFile struct {
	Council    []string `yaml:"council"`
	Chairman   string   `yaml:"chairman"`
	TitleModel string   `yaml:"title_model"`
	Timeouts   struct {
		Model string `yaml:"model"`
		Stage string `yaml:"stage"`
	} `yaml:"timeouts"`
	HistoryTurns *int `yaml:"history_turns"`
}

// LoadConfig loads configuration from .env, the environment and the optional roster file.
func LoadConfig() error {
	// Load .env file - try multiple locations
	envLocations := []string{
		".env",    // Current directory
		"../.env", // Parent directory
	}

	envLoaded := false
	for _, envPath := range envLocations {
		absPath, err := filepath.Abs(envPath)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			if err := godotenv.Load(absPath); err == nil {
				log.Printf("Loaded .env from: %s", absPath)
				envLoaded = true
				break
			}
		}
	}

	if !envLoaded {
		log.Warn(".env file not found in any expected location")
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		parsed, err := log.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
		}
		log.SetLevel(parsed)
	}

	OpenRouterAPIKey = os.Getenv("OPENROUTER_API_KEY")
	GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	GroqAPIKey = os.Getenv("GROQ_API_KEY")
	if OpenRouterAPIKey == "" && GoogleAPIKey == "" && GroqAPIKey == "" {
		return errors.New("one of OPENROUTER_API_KEY, GOOGLE_API_KEY or GROQ_API_KEY is required")
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		DataDir = dir
	}
	MongoURI = os.Getenv("MONGODB_URI")
	RedisAddr = os.Getenv("REDIS_ADDR")
	RedisPassword = os.Getenv("REDIS_PASSWORD")
	if db := os.Getenv("REDIS_DB"); db != "" {
		n, err := strconv.Atoi(db)
		if err != nil {
			return fmt.Errorf("invalid REDIS_DB %q: %w", db, err)
		}
		RedisDB = n
	}
	if port := os.Getenv("PORT"); port != "" {
		Port = port
	}

	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		CORSAllowedOrigins = splitList(corsOrigins)
	}

	if path := os.Getenv("COUNCIL_CONFIG"); path != "" {
		if err := LoadCouncilFile(path); err != nil {
			return err
		}
	}

	if err := ValidateRoster(CouncilModels); err != nil {
		return fmt.Errorf("invalid council: %w", err)
	}

	log.WithFields(log.Fields{
		"council":  CouncilModels,
		"chairman": ChairmanModel,
	}).Info("Configuration loaded successfully")
	return nil
}

// LoadCouncilFile applies a YAML roster file on top of the current configuration.
func LoadCouncilFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read council config: %w", err)
	}

	var file CouncilFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse council config: %w", err)
	}

	if len(file.Council) > 0 {
		if err := ValidateRoster(file.Council); err != nil {
			return fmt.Errorf("invalid council in %s: %w", path, err)
		}
		CouncilModels = file.Council
	}
	if file.Chairman != "" {
		ChairmanModel = file.Chairman
	}
	if file.TitleModel != "" {
		TitleModel = file.TitleModel
	}
	if file.Timeouts.Model != "" {
		d, err := time.ParseDuration(file.Timeouts.Model)
		if err != nil {
			return fmt.Errorf("invalid model timeout: %w", err)
		}
		ModelQueryTimeout = d
	}
	if file.Timeouts.Stage != "" {
		d, err := time.ParseDuration(file.Timeouts.Stage)
		if err != nil {
			return fmt.Errorf("invalid stage timeout: %w", err)
		}
		StageTimeout = d
	}
	if file.HistoryTurns != nil {
		HistoryTurns = *file.HistoryTurns
	}

	log.Printf("Loaded council config from: %s", path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
