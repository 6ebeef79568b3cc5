package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/vk/forgectl/internal/cli"
)

func main() {
	// Use a minimal logger until the command configures the full one.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := cli.NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
