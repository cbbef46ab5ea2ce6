// Package app implements the newsclip CLI commands.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "run":
		return runIngest(args[1:])
	case "dedupe":
		return runDedupe(args[1:])
	case "articles":
		return runArticles(args[1:])
	case "tags":
		return runTags(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsclip CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsclip <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity and report corpus size")
	fmt.Fprintln(os.Stderr, "  run       Fetch configured feeds, classify and store new articles")
	fmt.Fprintln(os.Stderr, "  dedupe    Re-embed the stored corpus and remove semantic duplicates")
	fmt.Fprintln(os.Stderr, "  articles  List stored articles")
	fmt.Fprintln(os.Stderr, "  tags      List tags with article counts")
	fmt.Fprintln(os.Stderr, "  serve     Start the read-only HTTP API")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsclip <command> -h\" for command-specific flags.")
}
