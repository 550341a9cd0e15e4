package main

import (
	"os"

	"github.com/haatos/multici/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
