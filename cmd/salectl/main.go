package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const passphraseEnv = "SALECTL_PASSPHRASE"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "keygen":
		return runKeygenCommand(args[1:], stdout, stderr)
	case "address":
		return runAddressCommand(args[1:], stdout, stderr)
	case "sign":
		return runSignCommand(args[1:], stdout, stderr)
	case "call":
		return runCallCommand(args[1:], stdout, stderr)
	case "get":
		return runGetCommand(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: salectl <command> [flags]",
		"",
		"Commands:",
		"  keygen   --keystore <path> [--light]                 create a signing key",
		"  address  --keystore <path>                            print the keystore address",
		"  sign     --keystore <path> --path <p> [--body <json>] print signed request headers",
		"  call     --keystore <path> --path <p> [--body <json>] send a signed POST to saled",
		"  get      --path <p>                                   send an unsigned GET to saled",
		"",
		"The keystore passphrase is read from " + passphraseEnv + " or prompted for.",
		"The saled endpoint defaults to $SALED_URL or http://localhost:7080.",
	}, "\n")
}
