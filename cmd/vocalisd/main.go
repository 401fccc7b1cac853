package main

import (
	"os"

	"github.com/vocalis/vocalis/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
