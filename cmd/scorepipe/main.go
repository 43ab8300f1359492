package main

import (
	"context"
	"fmt"
	"os"

	"scorepipe/internal/cli"
)

func main() {
	if err := cli.Run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
