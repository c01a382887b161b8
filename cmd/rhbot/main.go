package main

import (
	"os"

	"github.com/rhbot/rhbot/cmd/rhbot/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
