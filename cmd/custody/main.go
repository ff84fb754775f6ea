package main

import (
	"os"

	"github.com/rustyeddy/custody/cmd/custody/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
