package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLMProvider defines the structure for LLM provider configuration.
// The APIKey field in the YAML names the environment variable holding the
// actual key; LoadConfig resolves it.
type LLMProvider struct {
	APIKey  string
	BaseURL string
}

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string
	}
	Database struct {
		DSN string // "memory" or file path for SQLite
	}
	Graph struct {
		SeedFile string `mapstructure:"seed_file"` // YAML question-graph document loaded when the DB holds no graph
	}
	Uploads struct {
		Dir string // directory attachment uploads are written under
	}
	Navigation struct {
		TransitionMs int `mapstructure:"transition_ms"` // non-interactive window between questions
	}
	LLMProviders  map[string]LLMProvider `mapstructure:"llm_providers"`  // provider key -> provider config
	LLMModels     map[string]string      `mapstructure:"llm_models"`     // model name -> provider key
	AnalysisModel string                 `mapstructure:"analysis_model"` // model used for answer analysis
}

// AppConfig is the global configuration instance.
var AppConfig Config

// TransitionWindow returns the configured transition duration.
func (c *Config) TransitionWindow() time.Duration {
	return time.Duration(c.Navigation.TransitionMs) * time.Millisecond
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../config") // For running from locations like tests

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.dsn", "memory")
	viper.SetDefault("graph.seed_file", "./config/graph.yaml")
	viper.SetDefault("uploads.dir", "./uploads")
	viper.SetDefault("navigation.transition_ms", 500)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("WARN: [Config] Configuration file (config.yaml) not found. Using environment variables and defaults.")
		} else {
			log.Fatalf("FATAL: [Config] Error reading configuration file: %v", err)
		}
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("FATAL: [Config] Failed to unmarshal configuration into AppConfig struct: %v", err)
	}

	// Environment variable overrides
	if port := os.Getenv("SERVER_PORT"); port != "" {
		AppConfig.Server.Port = port
		log.Printf("INFO: [Config] Server port overridden by environment variable SERVER_PORT: %s", port)
	}

	// Load API keys for LLM providers from environment variables
	for providerKey, providerConfig := range AppConfig.LLMProviders {
		envVarNameForKey := providerConfig.APIKey
		if envValue := os.Getenv(envVarNameForKey); envValue != "" {
			updatedConfig := providerConfig
			updatedConfig.APIKey = envValue
			AppConfig.LLMProviders[providerKey] = updatedConfig
			log.Printf("INFO: [Config] Loaded API Key for provider '%s' from environment variable '%s'.", providerKey, envVarNameForKey)
		} else if providerConfig.APIKey != "" && !strings.HasSuffix(providerConfig.APIKey, "_KEY") {
			log.Printf("WARN: [Config] API Key for provider '%s' is directly set in config.yaml and not overridden by an env var. Consider using env vars for keys.", providerKey)
		} else {
			log.Printf("WARN: [Config] API Key for provider '%s' (env var '%s') is not set.", providerKey, envVarNameForKey)
		}
	}

	if len(AppConfig.LLMModels) == 0 && viper.IsSet("llm_models") {
		AppConfig.LLMModels = viper.GetStringMapString("llm_models")
	}

	log.Println("INFO: [Config] Configuration loading complete.")
}
