package main

import (
	"os"

	"membership/cmd/memberd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
