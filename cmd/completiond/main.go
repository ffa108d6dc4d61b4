package main

import (
	"fmt"
	"os"
)

func main() {
	root := buildRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "completiond:", err)
		os.Exit(1)
	}
}
