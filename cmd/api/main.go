package main

import (
	"fmt"
	"os"

	"elx-gateway/internal/platform/server"
)

func main() {
	if err := server.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}
