package main

import (
	"os"

	"newsclip/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
