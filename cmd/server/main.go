package main

import (
	"os"

	"x-auto-post-tool/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
