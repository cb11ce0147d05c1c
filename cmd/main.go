package main

import (
	"os"

	"github.com/yungbote/botforge-backend/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
