package main

import (
	"fmt"
	"os"

	"github.com/23skdu/longbow-parley/cmd/parley/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
