package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := newRootCmd()
	root.Version = fmt.Sprintf("%s (commit: %s)", version, commit)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pvbridge: %v\n", err)
		os.Exit(1)
	}
}
