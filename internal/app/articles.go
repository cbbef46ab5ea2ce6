package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"newsclip/internal/cli"
	"newsclip/internal/db"
)

func runArticles(args []string) int {
	fs := flag.NewFlagSet("articles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 20*time.Second, "Command timeout")
	tag := fs.String("tag", "", "Only list articles carrying this tag")
	limit := fs.Int("limit", 50, "Maximum number of articles")
	offset := fs.Int("offset", 0, "Number of articles to skip")
	asJSON := fs.Bool("json", false, "Emit JSON instead of text")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *limit < 1 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
		return 2
	}
	if *offset < 0 {
		fmt.Fprintln(os.Stderr, "--offset must be >= 0")
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

	items, err := pool.ListArticles(ctx, db.ArticleListOptions{
		Tag:    strings.TrimSpace(*tag),
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list articles: %v\n", err)
		return 1
	}

	if *asJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(items); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode articles: %v\n", err)
			return 1
		}
		return 0
	}

	for _, item := range items {
		published := ""
		if item.Published != nil {
			published = item.Published.UTC().Format(time.RFC3339)
		}
		fmt.Printf("%d\t%s\t%s\t%s\t[%s]\n",
			item.ID, published, item.Title, item.Link, strings.Join(item.Tags, ","))
	}
	fmt.Fprintf(os.Stderr, "%d article(s)\n", len(items))
	return 0
}
