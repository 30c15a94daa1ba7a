package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"nhbmarket/cmd/internal/passphrase"
)

const (
	rpcURLEnv     = "RPC_URL"
	rpcTokenEnv   = "NHB_RPC_TOKEN"
	passphraseEnv = "NHB_KEYSTORE_PASSPHRASE"
)

// cli carries the state shared by every subcommand.
type cli struct {
	client     *rpcClient
	passphrase func() (string, error)
	stdout     io.Writer
	stderr     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	endpoint := defaultRPCEndpoint()
	fs := flag.NewFlagSet("market-cli", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&endpoint, "rpc", endpoint, "JSON-RPC endpoint of the marketplace node")
	fs.Usage = func() { printUsage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 1
	}
	rest := fs.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return 1
	}
	c := &cli{
		client:     newRPCClient(endpoint, os.Getenv(rpcTokenEnv)),
		passphrase: passphrase.NewSource(passphraseEnv).Get,
		stdout:     stdout,
		stderr:     stderr,
	}
	return c.dispatch(rest[0], rest[1:])
}

func (c *cli) dispatch(command string, args []string) int {
	switch command {
	case "generate-key":
		return c.runGenerateKey(args)
	case "address":
		return c.runAddress(args)
	case "balance":
		return c.runBalance(args)
	case "list":
		return c.runList(args)
	case "purchase":
		return c.runPurchase(args)
	case "product":
		return c.runProduct(args)
	case "count":
		return c.runCount(args)
	case "name":
		return c.runName(args)
	case "events":
		return c.runEvents(args)
	case "export":
		return c.runExport(args)
	case "help", "-h", "--help":
		printUsage(c.stdout)
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", command)
		printUsage(c.stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: market-cli [--rpc URL] <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  generate-key --out FILE                       create a new encrypted keystore")
	fmt.Fprintln(w, "  address --key FILE                            print the keystore's address")
	fmt.Fprintln(w, "  balance ADDRESS                               show balance and nonce")
	fmt.Fprintln(w, "  list --key FILE --name NAME --price AMOUNT    list a product for sale")
	fmt.Fprintln(w, "  purchase --key FILE --id ID --payment AMOUNT  buy a listed product")
	fmt.Fprintln(w, "  product ID                                    show a product")
	fmt.Fprintln(w, "  count                                         number of products ever listed")
	fmt.Fprintln(w, "  name                                          marketplace name")
	fmt.Fprintln(w, "  events [--cursor N] [--limit N]               page through the event log")
	fmt.Fprintln(w, "  export --out FILE [--format parquet|jsonl]    export the event log")
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "Amounts accept units such as \"1.5 ether\" or plain wei. Keystore passphrases are read from %s or the terminal.\n", passphraseEnv)
}
