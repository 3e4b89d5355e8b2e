package main

import (
	"fmt"
	"os"

	"github.com/unclebandit/newsletter-backend/cmd/newsletterctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
