// Package main is trackerctl, the terminal client for the tracking server.
package main

import (
	"os"

	"github.com/SeanDreamHsu/shorts-counter/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
