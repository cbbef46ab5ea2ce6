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

func runTags(args []string) int {
	fs := flag.NewFlagSet("tags", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")

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

	counts, err := pool.ListTagCounts(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list tags: %v\n", err)
		return 1
	}

	for _, row := range counts {
		fmt.Printf("%s\t%d\n", row.Name, row.Count)
	}
	fmt.Fprintf(os.Stderr, "%d tag(s)\n", len(counts))
	return 0
}
