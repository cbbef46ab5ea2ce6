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
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	articles, err := pool.CountArticles(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count articles: %v\n", err)
		return 1
	}
	embeddings, err := pool.CountEmbeddings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to count embeddings: %v\n", err)
		return 1
	}

	fmt.Printf("database=ok articles=%d embeddings=%d\n", articles, embeddings)
	return 0
}
