package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Prints a bcrypt hash suitable for RELAY_API_KEY_HASH.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-key.go <key>\n")
		os.Exit(1)
	}

	key := os.Args[1]
	if len(key) > 72 {
		fmt.Fprintf(os.Stderr, "Error: bcrypt only uses the first 72 bytes; use a shorter key\n")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
