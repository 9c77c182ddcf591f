package main

import (
	"log"

	"github.com/worldconnect/commentsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatalf("commentsync: %v", err)
	}
}
