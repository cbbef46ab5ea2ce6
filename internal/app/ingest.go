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
	"newsclip/internal/feed"
	"newsclip/internal/openai"
	"newsclip/internal/pipeline"
	"newsclip/internal/scrape"
	"newsclip/internal/tagger"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 15*time.Minute, "Command timeout")
	concurrency := fs.Int("feed-concurrency", pipeline.DefaultFeedConcurrency, "Concurrent feed fetches")

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

	feedURLs := cfg.FeedURLs()
	if len(feedURLs) == 0 {
		fmt.Fprintln(os.Stderr, "RSS_FEEDS is empty, nothing to ingest")
		return 2
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
	completer := openai.NewChatCompleter(client, cfg.ChatModel)

	fetcher := feed.NewFetcher(feed.FetcherOptions{MaxEntries: cfg.MaxEntriesPerFeed}, logger)
	detector := dedup.NewDetector(embedder, pool, cfg.SimilarityThreshold, logger)
	classifier := tagger.New(completer, cfg.TagBatchSize, cfg.TagLabelList(), logger)

	var enricher pipeline.Enricher
	if cfg.FetchOGImages || cfg.FetchExcerpts {
		blocklist := scrape.NewBlocklist(cfg.BlockedImageDomainList())
		enricher = scrape.NewScraper(scrape.Options{}, blocklist, logger)
	}

	svc := pipeline.NewService(fetcher, pool, detector, classifier, enricher, pipeline.Options{
		FeedURLs:        feedURLs,
		FeedConcurrency: *concurrency,
		FetchOGImages:   cfg.FetchOGImages,
		FetchExcerpts:   cfg.FetchExcerpts,
		ExcerptLimit:    scrape.DefaultExcerptLimit,
	}, logger)

	result, err := svc.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("ingestion run failed")
		fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
		return 1
	}

	fmt.Printf("fetched=%d rejected=%d known=%d duplicates=%d queued=%d tagged=%d dropped=%d abandoned_batches=%d stored=%d\n",
		result.Fetched,
		result.Rejected,
		result.AlreadyKnown,
		result.Duplicates,
		result.Queued,
		result.Tagged,
		result.DroppedByClassifier,
		result.BatchesAbandoned,
		result.Stored,
	)
	return 0
}
