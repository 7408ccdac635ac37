package main

import (
	"os"

	"github.com/solatis/watchkeeper/cmd/watchkeeper/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
