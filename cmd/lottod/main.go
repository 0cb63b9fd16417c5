// Command lottod runs a lottery chain node and its key tooling.
package main

import (
	"os"

	"github.com/google/logger"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
