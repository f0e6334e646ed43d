package main

import (
	"os"

	"github.com/lukasbeuster/KerbSide/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
