package main

import (
	"os"

	"github.com/Harshitk-cp/memlayer/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
