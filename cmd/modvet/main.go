// Package main provides the modvet command-line application for
// validating uploaded game-mod archives.
package main

import (
	"log"
	"os"

	"github.com/modvet-project/modvet/internal/cli"
)

func main() {
	app := cli.NewApp()

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
