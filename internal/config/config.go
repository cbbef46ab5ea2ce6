package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"NEWSCLIP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"NEWSCLIP_DB_MAX_CONNS" default:"8"`

	RSSFeeds          string `envconfig:"RSS_FEEDS" default:""`
	MaxEntriesPerFeed int    `envconfig:"MAX_ENTRIES_PER_FEED" default:"50"`

	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" default:""`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-2024-08-06"`

	SimilarityThreshold      float64 `envconfig:"SIMILARITY_THRESHOLD" default:"0.70"`
	RetroSimilarityThreshold float64 `envconfig:"RETRO_SIMILARITY_THRESHOLD" default:"0.70"`

	TagBatchSize int    `envconfig:"TAG_BATCH_SIZE" default:"10"`
	TagLabels    string `envconfig:"TAG_LABELS" default:""`

	FetchOGImages       bool   `envconfig:"FETCH_OG_IMAGES" default:"false"`
	FetchExcerpts       bool   `envconfig:"FETCH_EXCERPTS" default:"false"`
	BlockedImageDomains string `envconfig:"BLOCKED_IMAGE_DOMAINS" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("NEWSCLIP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("NEWSCLIP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("NEWSCLIP_DB_MIN_CONNS (%d) cannot exceed NEWSCLIP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.MaxEntriesPerFeed < 1 {
		return fmt.Errorf("MAX_ENTRIES_PER_FEED must be >= 1")
	}
	if c.EmbeddingDimensions < 1 {
		return fmt.Errorf("EMBEDDING_DIMENSIONS must be >= 1")
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be in [0,1]")
	}
	if c.RetroSimilarityThreshold < 0 || c.RetroSimilarityThreshold > 1 {
		return fmt.Errorf("RETRO_SIMILARITY_THRESHOLD must be in [0,1]")
	}
	if c.TagBatchSize < 1 {
		return fmt.Errorf("TAG_BATCH_SIZE must be >= 1")
	}
	return nil
}

// FeedURLs returns the configured feed URLs, deduplicated in order.
func (c *Config) FeedURLs() []string {
	return splitList(c.RSSFeeds)
}

// TagLabelList returns the configured allowed tag labels, if any.
func (c *Config) TagLabelList() []string {
	return splitList(c.TagLabels)
}

// BlockedImageDomainList returns the initial scraping blocklist.
func (c *Config) BlockedImageDomainList() []string {
	return splitList(c.BlockedImageDomains)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		if _, exists := seen[value]; exists {
			continue
		}
		seen[value] = struct{}{}
		values = append(values, value)
	}
	return values
}
