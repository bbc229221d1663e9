package main

import (
	"os"

	"github.com/operator-framework/omps/cmd/omps/root"
)

func main() {
	if err := root.NewCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
