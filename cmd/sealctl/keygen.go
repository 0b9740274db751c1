package main

import (
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"os"

	"sentinel-sos/internal/sealing"
)

func runKeygen(args []string) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var privPath, pubPath string
	var bits int
	fs.StringVar(&privPath, "out-private", "", "private key PEM path")
	fs.StringVar(&pubPath, "out-public", "", "public key PEM path")
	fs.IntVar(&bits, "bits", 2048, "RSA modulus size")

	if err := fs.Parse(args); err != nil {
		return 1
	}
	if privPath == "" || pubPath == "" {
		fmt.Fprintln(os.Stderr, "keygen requires --out-private and --out-public")
		return 1
	}
	if bits < 2048 {
		fmt.Fprintln(os.Stderr, "keygen: --bits must be at least 2048")
		return 1
	}

	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		return 1
	}
	pubPEM, err := sealing.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		return 1
	}
	if err := os.WriteFile(privPath, []byte(sealing.EncodePrivateKeyPEM(priv)), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		return 1
	}
	if err := os.WriteFile(pubPath, []byte(pubPEM), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: %v\n", err)
		return 1
	}
	return 0
}
