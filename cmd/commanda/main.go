package main

import (
	"os"

	"github.com/tyonishi/commanda-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
