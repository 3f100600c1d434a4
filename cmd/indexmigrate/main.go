package main

import (
	"os"

	"github.com/searchops/indexmigrate/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
