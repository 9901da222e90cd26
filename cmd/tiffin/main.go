package main

import (
	"os"

	"github.com/satguru/tiffin/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
