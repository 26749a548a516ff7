// Command farmwise is the operator CLI: it chats with the agents locally,
// starts workflows and keeps the Temporal schedules in sync with config.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
