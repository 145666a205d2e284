package main

import (
	"os"

	"github.com/roach88/txsync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
