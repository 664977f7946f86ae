package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/audithq/ganaudit/internal/cmd"
)

func main() {
	// Load env overrides before viper reads the environment
	_ = godotenv.Load(".env")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
