package main

import (
	"os"

	"orgregistry/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
