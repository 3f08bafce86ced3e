// Copyright 2025 Certen Protocol
//
// Operator key generation tool. Creates the signing keys an operator needs
// in the filesystem keystore used by the runtime.

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/certen/blueprint-runtime/pkg/keystore"
)

func main() {
	dir := flag.String("dir", "keystore", "keystore directory")
	keyType := flag.String("type", "", "key type: bls12-381, bn254, ecdsa, sr25519")
	keyID := flag.String("id", "operator", "key identifier")
	flag.Parse()

	if *keyType == "" {
		fmt.Fprintln(os.Stderr, "usage: keygen -dir <keystore> -type <key-type> [-id <key-id>]")
		os.Exit(2)
	}

	ks, err := keystore.OpenFS(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open keystore: %v\n", err)
		os.Exit(1)
	}
	if err := ks.Generate(keystore.KeyType(*keyType), *keyID); err != nil {
		fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
		os.Exit(1)
	}

	pubs, err := ks.List(keystore.KeyType(*keyType))
	if err != nil {
		fmt.Fprintf(os.Stderr, "list keys: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("generated %s key %q (%d keys of this type in %s)\n", *keyType, *keyID, len(pubs), *dir)
}
