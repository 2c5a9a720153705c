// Package config loads the relay's JSON configuration with environment
// variable expansion, so secrets stay out of the file itself.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the relay.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Azure     AzureConfig     `json:"azure"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Resolver  ResolverConfig  `json:"resolver"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"`
}

type ServerConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	PublicBaseURL   string `json:"publicBaseUrl"`   // base URL the channel fetches media from
	MediaTTLSeconds int    `json:"mediaTtlSeconds"` // media cache retention window
}

type WhatsAppConfig struct {
	AccessToken       string `json:"accessToken,omitempty"`
	VerifyToken       string `json:"verifyToken,omitempty"`
	PhoneNumberID     string `json:"phoneNumberId,omitempty"`
	AppID             string `json:"appId,omitempty"`
	AppSecret         string `json:"appSecret,omitempty"`
	RecipientOverride string `json:"recipientOverride,omitempty"` // fixed-test-recipient mode
	APIVersion        string `json:"apiVersion,omitempty"`
	APIBase           string `json:"apiBase,omitempty"`
}

type AzureConfig struct {
	Endpoint      string `json:"endpoint"`
	APIKey        string `json:"apiKey,omitempty"`
	APIVersion    string `json:"apiVersion,omitempty"`
	GPTDeployment string `json:"gptDeployment"`
	STTDeployment string `json:"sttDeployment"`
	TTSDeployment string `json:"ttsDeployment"`
	TTSVoice      string `json:"ttsVoice,omitempty"`
	TTSFormat     string `json:"ttsFormat,omitempty"`
	STTLanguage   string `json:"sttLanguage,omitempty"`
}

type KnowledgeConfig struct {
	Enabled      bool   `json:"enabled"`
	DataPath     string `json:"dataPath"` // JSON or YAML document manifest
	DBPath       string `json:"dbPath"`
	ChunkSize    int    `json:"chunkSize"`
	ChunkOverlap int    `json:"chunkOverlap"`
	SearchTopK   int    `json:"searchTopK"`
}

type ResolverConfig struct {
	Greetings []string `json:"greetings,omitempty"`
	Welcome   string   `json:"welcome,omitempty"`
	Apology   string   `json:"apology,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.voicebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".voicebot"
	}
	return filepath.Join(home, ".voicebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Knowledge.DBPath = expandPath(cfg.Knowledge.DBPath)
	cfg.Knowledge.DataPath = expandPath(cfg.Knowledge.DataPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o600)
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MediaTTLSeconds <= 0 {
		return fmt.Errorf("server.mediaTtlSeconds must be positive, got %d", cfg.Server.MediaTTLSeconds)
	}
	if cfg.Knowledge.Enabled {
		if cfg.Knowledge.ChunkSize <= 0 {
			return fmt.Errorf("knowledge.chunkSize must be positive, got %d", cfg.Knowledge.ChunkSize)
		}
		if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
			return fmt.Errorf("knowledge.chunkOverlap must be in [0, chunkSize), got %d", cfg.Knowledge.ChunkOverlap)
		}
	}
	if base := cfg.Server.PublicBaseURL; base != "" &&
		!strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return fmt.Errorf("server.publicBaseUrl must be an http(s) URL, got %q", base)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Sanitize returns a copy safe to print: secrets are masked.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.WhatsApp.AccessToken = mask(cfg.WhatsApp.AccessToken)
	out.WhatsApp.VerifyToken = mask(cfg.WhatsApp.VerifyToken)
	out.WhatsApp.AppSecret = mask(cfg.WhatsApp.AppSecret)
	out.Azure.APIKey = mask(cfg.Azure.APIKey)
	return &out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 6 {
		return "******"
	}
	return secret[:3] + "..." + secret[len(secret)-3:]
}
