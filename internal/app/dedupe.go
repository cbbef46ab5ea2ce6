package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"newsclip/internal/cli"
	"newsclip/internal/db"
	"newsclip/internal/dedup"
	"newsclip/internal/openai"
)

func runDedupe(args []string) int {
	fs := flag.NewFlagSet("dedupe", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	threshold := fs.Float64("threshold", 0, "Similarity threshold override (0 uses RETRO_SIMILARITY_THRESHOLD)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := bootstrap(envLoader)
	if code != 0 {
		return code
	}

	effectiveThreshold := cfg.RetroSimilarityThreshold
	if *threshold > 0 {
		if *threshold > 1 {
			fmt.Fprintln(os.Stderr, "--threshold must be in (0,1]")
			return 2
		}
		effectiveThreshold = *threshold
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	client := openai.NewClient(openai.Options{
		BaseURL: cfg.OpenAIBaseURL,
		APIKey:  cfg.OpenAIAPIKey,
	})
	embedder := openai.NewEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDimensions)

	retro := dedup.NewRetro(pool, embedder, effectiveThreshold, logger)
	result, err := retro.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("retroactive deduplication failed")
		fmt.Fprintf(os.Stderr, "Deduplication failed: %v\n", err)
		return 1
	}

	fmt.Printf("scanned=%d embedded=%d clusters=%d removed=%d\n",
		result.Scanned, result.Embedded, result.Clusters, result.Removed)
	return 0
}
