package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/noterank/internal/embedding"
	"github.com/starford/noterank/internal/ranking"
	"github.com/starford/noterank/internal/vectorindex"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Embedding providers.
const (
	ProviderOpenAI  = "openai"
	ProviderHashing = "hashing"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Catalog   CatalogConfig     `yaml:"catalog"`
	Records   RecordsConfig     `yaml:"records"`
	Embedding EmbeddingConfig   `yaml:"embedding"`
	Index     IndexConfig       `yaml:"index"`
	Recommend RecommendConfig   `yaml:"recommend"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Catalog, &c.Records, &c.Embedding, &c.Index, &c.Recommend, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CatalogConfig holds the SQLite record catalog location.
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the catalog configuration.
func (c *CatalogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RecordsConfig configures the drop directory of record files.
// An empty Dir disables file ingestion.
type RecordsConfig struct {
	Dir            string        `yaml:"dir"`
	Watch          bool          `yaml:"watch"`
	EventsThrottle time.Duration `yaml:"events_throttle"`
}

// Validate validates the records configuration.
func (c *RecordsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.EventsThrottle, validation.Min(time.Duration(0))),
	)
}

// Enabled reports whether a drop directory is configured.
func (c *RecordsConfig) Enabled() bool {
	return c.Dir != ""
}

// EmbeddingConfig selects and tunes the embedding provider. Dimensions is
// the hashing width, or the reduced output width for OpenAI models that
// support it (0 keeps the model default).
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Dimensions        int     `yaml:"dimensions"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Validate validates the embedding configuration.
func (c *EmbeddingConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderOpenAI, ProviderHashing)),
		validation.Field(&c.APIKey, validation.When(c.Provider == ProviderOpenAI, validation.Required)),
		validation.Field(&c.Dimensions, validation.Min(0)),
		validation.Field(&c.BatchSize, validation.Min(0), validation.Max(2048)),
		validation.Field(&c.Concurrency, validation.Min(0)),
		validation.Field(&c.RequestsPerSecond, validation.Min(0.0)),
	)
}

// CacheNamespace keys cached vectors so that changing the provider, model or
// width never serves stale vectors.
func (c *EmbeddingConfig) CacheNamespace() string {
	if c.Provider == ProviderHashing {
		return fmt.Sprintf("hashing-%d", c.HashingDimensions())
	}
	model := c.Model
	if model == "" {
		model = embedding.DefaultOpenAIModel
	}
	if c.Dimensions > 0 {
		return fmt.Sprintf("openai-%s-%d", model, c.Dimensions)
	}
	return "openai-" + model
}

// HashingDimensions returns the hashing embedder width, defaulting when unset.
func (c *EmbeddingConfig) HashingDimensions() int {
	if c.Dimensions > 0 {
		return c.Dimensions
	}
	return embedding.DefaultHashingDimensions
}

// IndexConfig tunes the HNSW graph.
type IndexConfig struct {
	M              int    `yaml:"m"`
	EfConstruction int    `yaml:"ef_construction"`
	EfSearch       int    `yaml:"ef_search"`
	Seed           uint64 `yaml:"seed"`
}

// Validate validates the index configuration.
func (c *IndexConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.M, validation.Required, validation.Min(2), validation.Max(128)),
		validation.Field(&c.EfConstruction, validation.Required, validation.Min(1)),
		validation.Field(&c.EfSearch, validation.Required, validation.Min(1)),
	)
}

// HNSW converts the configuration to graph parameters.
func (c *IndexConfig) HNSW() vectorindex.HNSWConfig {
	return vectorindex.HNSWConfig{
		M:              c.M,
		EfConstruction: c.EfConstruction,
		EfSearch:       c.EfSearch,
		Seed:           c.Seed,
	}
}

// RecommendConfig tunes ranking.
type RecommendConfig struct {
	TauDays float64 `yaml:"tau_days"`
}

// Validate validates the recommend configuration.
func (c *RecommendConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TauDays, validation.Required, validation.Min(0.0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Catalog: CatalogConfig{
			Path: "./noterank.db",
		},
		Records: RecordsConfig{
			Dir:            "./records",
			Watch:          true,
			EventsThrottle: 2 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:    ProviderHashing,
			Model:       embedding.DefaultOpenAIModel,
			BatchSize:   256,
			Concurrency: 4,
		},
		Index: IndexConfig{
			M:              vectorindex.DefaultM,
			EfConstruction: vectorindex.DefaultEfConstruction,
			EfSearch:       vectorindex.DefaultEfSearch,
		},
		Recommend: RecommendConfig{
			TauDays: ranking.DefaultTauDays,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
