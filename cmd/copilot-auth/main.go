package main

import (
	"fmt"
	"os"

	"github.com/mwhitfield/copilot-auth/internal/cli"
)

var Version = "dev"

func main() {
	root := cli.NewRootCmd(Version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
