package main

import (
	"os"

	"benji/cmd/benjictl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
