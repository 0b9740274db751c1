package main

import (
	"flag"
	"fmt"
	"os"

	"sentinel-sos/internal/sealing"
)

// runHash prints the payload hash of packet text exactly as read. No trimming:
// a trailing newline changes the hash.
func runHash(args []string) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var inPath string
	fs.StringVar(&inPath, "in", "", "packet text path (default stdin)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	text, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		return 1
	}
	if err := writeOutput("", []byte(sealing.PayloadHash(string(text)))); err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		return 1
	}
	return 0
}
