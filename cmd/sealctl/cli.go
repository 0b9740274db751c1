package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

func run(args []string) int {
	if len(args) < 2 {
		usage(args)
		return 1
	}

	switch args[1] {
	case "keygen":
		return runKeygen(args[2:])
	case "seal":
		return runSeal(args[2:])
	case "open":
		return runOpen(args[2:])
	case "hash":
		return runHash(args[2:])
	}

	usage(args)
	return 1
}

func usage(args []string) {
	name := "sealctl"
	if len(args) > 0 && args[0] != "" {
		name = filepath.Base(args[0])
	}
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  %s keygen --out-private <file> --out-public <file> [--bits 2048]\n", name)
	fmt.Fprintf(os.Stderr, "  %s seal --pubkey <file> [--in <report.json>] [--out <packet.json>]\n", name)
	fmt.Fprintf(os.Stderr, "  %s open --key <file> --expect-hash <0x...> [--in <packet.json>] [--legacy-oaep]\n", name)
	fmt.Fprintf(os.Stderr, "  %s hash [--in <packet.json>]\n", name)
}

// readInput reads path, or stdin when path is empty or "-".
func readInput(path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, payload []byte) error {
	if path == "" {
		if _, err := os.Stdout.Write(payload); err != nil {
			return err
		}
		_, err := fmt.Fprintln(os.Stdout)
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
