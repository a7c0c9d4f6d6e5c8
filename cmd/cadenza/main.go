package main

import (
	"os"

	"github.com/cadenza-io/cadenza/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
