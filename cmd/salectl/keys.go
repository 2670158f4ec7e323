package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"cratsale/cmd/internal/passphrase"
	"cratsale/crypto"
)

// passphraseFor is swapped in tests.
var passphraseFor = func() (string, error) {
	return passphrase.NewSource(passphraseEnv, "sale keystore").Get()
}

func runKeygenCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var path string
	var light bool
	fs.StringVar(&path, "keystore", "", "path of the keystore file to create")
	fs.BoolVar(&light, "light", false, "use light scrypt parameters (testing only)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Error: unexpected positional arguments")
		return 1
	}
	path = strings.TrimSpace(path)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return 1
	}
	pass, err := passphraseFor()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Fprintf(stderr, "Error: generate key: %v\n", err)
		return 1
	}
	kdf := crypto.StandardKDF
	if light {
		kdf = crypto.LightKDF
	}
	if err := crypto.SaveKeystore(path, key, pass, kdf); err != nil {
		fmt.Fprintf(stderr, "Error: save keystore: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func runAddressCommand(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var path string
	fs.StringVar(&path, "keystore", "", "path to the keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, code := loadKey(path, stderr)
	if key == nil {
		return code
	}
	fmt.Fprintln(stdout, key.Address().Hex())
	return 0
}

func loadKey(path string, stderr io.Writer) (*crypto.PrivateKey, int) {
	path = strings.TrimSpace(path)
	if path == "" {
		fmt.Fprintln(stderr, "Error: --keystore is required")
		return nil, 1
	}
	pass, err := passphraseFor()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	key, err := crypto.LoadKeystore(path, pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error: load keystore: %v\n", err)
		return nil, 1
	}
	return key, 0
}
