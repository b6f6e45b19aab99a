package main

import (
	"os"

	"github.com/todocloud-dev/todocloud/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
