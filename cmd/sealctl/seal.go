package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"sentinel-sos/internal/gate"
	"sentinel-sos/internal/sealing"
)

type sealOutput struct {
	Packet      string `json:"packet"`
	PayloadHash string `json:"payloadHash"`
}

func runSeal(args []string) int {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var pubPath, inPath, outPath string
	fs.StringVar(&pubPath, "pubkey", "", "authority public key PEM path")
	fs.StringVar(&inPath, "in", "", "report JSON path (default stdin)")
	fs.StringVar(&outPath, "out", "", "output path (default stdout)")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if pubPath == "" {
		fmt.Fprintln(os.Stderr, "seal requires --pubkey")
		return 1
	}

	pubPEM, err := os.ReadFile(pubPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}
	report, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}
	if !json.Valid(report) {
		fmt.Fprintln(os.Stderr, "seal: report is not valid JSON")
		return 1
	}

	text, hash, err := sealing.SealPEM(json.RawMessage(report), string(pubPEM))
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}
	payload, err := json.MarshalIndent(sealOutput{Packet: text, PayloadHash: hash}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}
	if err := writeOutput(outPath, payload); err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		return 1
	}
	return 0
}

func runOpen(args []string) int {
	fs := flag.NewFlagSet("open", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var keyPath, inPath, expectHash string
	var legacy bool
	fs.StringVar(&keyPath, "key", "", "authority private key PEM path")
	fs.StringVar(&inPath, "in", "", "packet text path (default stdin)")
	fs.StringVar(&expectHash, "expect-hash", "", "anchored payload hash to bind the packet to")
	fs.BoolVar(&legacy, "legacy-oaep", false, "also accept SHA-1 OAEP wrapped keys")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if keyPath == "" || expectHash == "" {
		fmt.Fprintln(os.Stderr, "open requires --key and --expect-hash")
		return 1
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		return 1
	}
	var gateOpts []gate.GateOption
	if legacy {
		gateOpts = append(gateOpts, gate.WithLegacyOAEP())
	}
	g, err := gate.New(string(keyPEM), gateOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		return 1
	}
	packet, err := readInput(inPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		return 1
	}

	payload, err := g.Unseal(string(packet), expectHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		return 1
	}
	if err := writeOutput("", payload); err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		return 1
	}
	return 0
}
