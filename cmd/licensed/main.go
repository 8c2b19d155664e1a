package main

import (
	"fmt"
	"log/slog"
	"os"

	"signcast/internal/app"
	"signcast/pkg/contracts"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Println(contracts.GetVersionString())
		fmt.Printf("  build time: %s\n  git commit: %s\n", contracts.BuildTime, contracts.GitCommit)
		return
	}

	application, err := app.NewApplication()
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
