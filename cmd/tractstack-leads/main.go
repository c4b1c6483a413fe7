package main

import (
	"log"

	"github.com/AtRiskMedia/tractstack-leads/internal/presentation/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.Fatalf("tractstack-leads: %v", err)
	}
}
