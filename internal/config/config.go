package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"ordex/internal/common"
)

type Config struct {
	Models      []ModelConfig     `mapstructure:"models"`
	Pricing     map[string]Price  `mapstructure:"pricing"`
	Pools       PoolsConfig       `mapstructure:"pools"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Usage       UsageConfig       `mapstructure:"usage"`
	Directories DirectoriesConfig `mapstructure:"directories"`
}

// ModelConfig describes one configured LLM deployment: endpoint
// credentials, per-minute token budget, chunking parameters, and the
// task labels routed to it. Exactly one model must carry the
// "default" task assignment.
type ModelConfig struct {
	Name             string   `mapstructure:"name"`
	Provider         string   `mapstructure:"provider"`
	APIEndpoint      string   `mapstructure:"api_endpoint"`
	APIKey           string   `mapstructure:"api_key"`
	RateLimit        int      `mapstructure:"rate_limit"`
	MaxConcurrent    int      `mapstructure:"max_concurrent"`
	ChunkSize        int      `mapstructure:"chunk_size"`
	ChunkOverlap     int      `mapstructure:"chunk_overlap"`
	Temperature      float64  `mapstructure:"temperature"`
	MaxOutputTokens  int      `mapstructure:"max_output_tokens"`
	TimeoutSeconds   int      `mapstructure:"timeout"`
	MaxRetries       int      `mapstructure:"max_retries"`
	Tasks            []string `mapstructure:"tasks"`
}

// Price is the configured cost per token for one model. Models
// missing from the pricing table are still counted for token volume
// but contribute zero cost.
type Price struct {
	PromptPerToken     float64 `mapstructure:"prompt_per_token"`
	CompletionPerToken float64 `mapstructure:"completion_per_token"`
}

// PoolsConfig caps concurrency for non-LLM pooled resources:
// max_browsers bounds the document loader pool, max_jurisdictions
// bounds how many jurisdictions are processed at once.
type PoolsConfig struct {
	MaxBrowsers      int `mapstructure:"max_browsers"`
	MaxJurisdictions int `mapstructure:"max_jurisdictions"`
}

type ExtractionConfig struct {
	TreePath        string `mapstructure:"tree_path"`
	MaxNodeAttempts int    `mapstructure:"max_node_attempts"`
	NumChunksRecall int    `mapstructure:"num_chunks_recall"`
}

type UsageConfig struct {
	LedgerPath string `mapstructure:"ledger_path"`
}

type DirectoriesConfig struct {
	Output string `mapstructure:"output"`
	Logs   string `mapstructure:"logs"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set defaults
	setDefaults()

	// Enable environment variable support
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(common.PipelineTaskLabels()); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("pools.max_browsers", 10)
	viper.SetDefault("pools.max_jurisdictions", 25)

	viper.SetDefault("extraction.max_node_attempts", 3)
	viper.SetDefault("extraction.num_chunks_recall", 2)

	viper.SetDefault("usage.ledger_path", "usage.db")

	viper.SetDefault("directories.output", "./out")
	viper.SetDefault("directories.logs", "./logs")
}

// Validate performs the eager configuration checks: every model is
// well formed, exactly one model carries the default task sentinel,
// no label is assigned twice, and every label the pipeline can issue
// resolves to a model. Runs before any task is dispatched so routing
// failures surface as configuration errors, never at call time.
func (c *Config) Validate(pipelineLabels []common.TaskLabel) error {
	if len(c.Models) == 0 {
		return NewValidationError("models", "at least one model must be configured")
	}

	defaults := 0
	seen := make(map[common.TaskLabel]string)
	for i := range c.Models {
		m := &c.Models[i]
		if m.Name == "" {
			return NewValidationError(fmt.Sprintf("models[%d].name", i), "model name is required")
		}
		if m.RateLimit <= 0 {
			return NewValidationError(m.Name+".rate_limit", "must be greater than 0")
		}
		if m.MaxConcurrent <= 0 {
			return NewValidationError(m.Name+".max_concurrent", "must be greater than 0")
		}
		if m.ChunkSize > 0 && m.ChunkOverlap >= m.ChunkSize {
			return NewValidationError(m.Name+".chunk_overlap", "must be smaller than chunk_size")
		}
		for _, task := range m.Tasks {
			label := common.TaskLabel(task)
			if label == common.DefaultTaskLabel {
				defaults++
				continue
			}
			if owner, dup := seen[label]; dup {
				return NewValidationError(
					"tasks",
					fmt.Sprintf("task %q assigned to both %q and %q", task, owner, m.Name),
				)
			}
			seen[label] = m.Name
		}
	}

	if defaults == 0 {
		return NewValidationError("models", "exactly one model must carry the \"default\" task assignment, found none")
	}
	if defaults > 1 {
		return NewValidationError("models", fmt.Sprintf("exactly one model must carry the \"default\" task assignment, found %d", defaults))
	}

	// With a default present every label resolves, but unknown
	// explicit assignments usually mean a typo in the config.
	known := make(map[common.TaskLabel]bool, len(pipelineLabels))
	for _, label := range pipelineLabels {
		known[label] = true
	}
	for label, owner := range seen {
		if !known[label] {
			return NewValidationError(
				"tasks",
				fmt.Sprintf("model %q assigned unknown task %q", owner, label),
			)
		}
	}

	if c.Pools.MaxBrowsers <= 0 {
		return NewValidationError("pools.max_browsers", "must be greater than 0")
	}
	if c.Pools.MaxJurisdictions <= 0 {
		return NewValidationError("pools.max_jurisdictions", "must be greater than 0")
	}
	if c.Extraction.MaxNodeAttempts <= 0 {
		return NewValidationError("extraction.max_node_attempts", "must be greater than 0")
	}

	return nil
}

// DefaultModel returns the model carrying the default task sentinel.
// Only meaningful after Validate has passed.
func (c *Config) DefaultModel() *ModelConfig {
	for i := range c.Models {
		for _, task := range c.Models[i].Tasks {
			if common.TaskLabel(task) == common.DefaultTaskLabel {
				return &c.Models[i]
			}
		}
	}
	return nil
}

// ValidationError reports a configuration problem with enough
// context to fix the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) ValidationError {
	return ValidationError{Field: field, Reason: reason}
}
