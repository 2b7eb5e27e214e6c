// widgetctl drives the survey widget runtime against a running server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/ashureev/surveysync/internal/widgetctl"
)

func main() {
	_ = godotenv.Load()

	if err := widgetctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
