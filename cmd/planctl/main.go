package main

import (
	"os"

	"github.com/rbroemmelsiek/HtoH-unified-sub001/internal/cli"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
