package main

import (
	"fmt"
	"os"

	"github.com/platinummonkey/lightbox/pkg/cli"
)

func main() {
	root := cli.NewRootCommand(cli.DefaultEnv())
	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
