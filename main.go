package main

import (
	"os"

	"github.com/update-tools/restitch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
