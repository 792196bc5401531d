package main

import (
	"log"

	"github.com/thiagokokada/vcslog/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("vcslog: %v", err)
	}
}
