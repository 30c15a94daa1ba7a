package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/integrations/exports"
)

const exportPageSize = 500

type balanceResult struct {
	Address string   `json:"address"`
	Balance *big.Int `json:"balance"`
	Ether   string   `json:"ether"`
	Nonce   uint64   `json:"nonce"`
}

type eventsResult struct {
	Events []events.Record `json:"events"`
	Head   uint64          `json:"head"`
}

func (c *cli) fail(err error) int {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(c.stderr, "Error: %s (code %d)\n", rpcErr.Message, rpcErr.Code)
		return 2
	}
	fmt.Fprintf(c.stderr, "Error: %v\n", err)
	return 1
}

func (c *cli) printJSON(v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, string(data))
	return 0
}

func (c *cli) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) runGenerateKey(args []string) int {
	fs := c.newFlagSet("generate-key")
	out := fs.String("out", "wallet.json", "path of the keystore file to create")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(*out); err == nil {
		return c.fail(fmt.Errorf("%s already exists; refusing to overwrite", *out))
	}
	pass, err := c.passphrase()
	if err != nil {
		return c.fail(err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return c.fail(err)
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Saved keystore to %s\nAddress: %s\n", *out, key.PubKey().Address())
	return 0
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("--key is required")
	}
	pass, err := c.passphrase()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

func (c *cli) runAddress(args []string) int {
	fs := c.newFlagSet("address")
	keyPath := fs.String("key", "", "keystore file")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, key.PubKey().Address().String())
	return 0
}

func (c *cli) runBalance(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "Error: balance expects one address")
		return 1
	}
	var res balanceResult
	if err := c.client.call("market_getBalance", []interface{}{args[0]}, &res); err != nil {
		return c.fail(err)
	}
	fmt.Fprintf(c.stdout, "Address: %s\nBalance: %s (%s wei)\nNonce:   %d\n", res.Address, res.Ether, res.Balance, res.Nonce)
	return 0
}

// send fills in the sender's nonce, signs tx and submits it.
func (c *cli) send(key *crypto.PrivateKey, tx *types.Transaction) int {
	var account balanceResult
	if err := c.client.call("market_getBalance", []interface{}{key.PubKey().Address().String()}, &account); err != nil {
		return c.fail(fmt.Errorf("fetch nonce: %w", err))
	}
	tx.Nonce = account.Nonce
	if err := tx.Sign(key.PrivateKey); err != nil {
		return c.fail(err)
	}
	var receipt json.RawMessage
	if err := c.client.call("market_sendTransaction", []interface{}{tx}, &receipt); err != nil {
		return c.fail(err)
	}
	return c.printJSON(receipt)
}

func (c *cli) runList(args []string) int {
	fs := c.newFlagSet("list")
	keyPath := fs.String("key", "", "keystore file of the seller")
	name := fs.String("name", "", "product name")
	price := fs.String("price", "", "asking price, e.g. \"2 ether\"")
	chainID := fs.Uint64("chain-id", types.DefaultChainID, "chain id to sign for")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*price) == "" {
		fmt.Fprintln(c.stderr, "Error: --name and --price are required")
		return 1
	}
	amount, err := types.ParseAmount(*price)
	if err != nil {
		return c.fail(err)
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	tx, err := types.NewListProductTx(*chainID, 0, *name, amount)
	if err != nil {
		return c.fail(err)
	}
	return c.send(key, tx)
}

func (c *cli) runPurchase(args []string) int {
	fs := c.newFlagSet("purchase")
	keyPath := fs.String("key", "", "keystore file of the buyer")
	id := fs.Uint64("id", 0, "product id")
	payment := fs.String("payment", "", "amount to pay, e.g. \"2 ether\"")
	chainID := fs.Uint64("chain-id", types.DefaultChainID, "chain id to sign for")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 || strings.TrimSpace(*payment) == "" {
		fmt.Fprintln(c.stderr, "Error: --id and --payment are required")
		return 1
	}
	amount, err := types.ParseAmount(*payment)
	if err != nil {
		return c.fail(err)
	}
	key, err := c.loadKey(*keyPath)
	if err != nil {
		return c.fail(err)
	}
	tx, err := types.NewPurchaseProductTx(*chainID, 0, *id, amount)
	if err != nil {
		return c.fail(err)
	}
	return c.send(key, tx)
}

func (c *cli) runProduct(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.stderr, "Error: product expects one id")
		return 1
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return c.fail(fmt.Errorf("invalid product id %q", args[0]))
	}
	var product json.RawMessage
	if err := c.client.call("market_getProduct", []interface{}{id}, &product); err != nil {
		return c.fail(err)
	}
	return c.printJSON(product)
}

func (c *cli) runCount(_ []string) int {
	var count uint64
	if err := c.client.call("market_productCount", nil, &count); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, count)
	return 0
}

func (c *cli) runName(_ []string) int {
	var name string
	if err := c.client.call("market_name", nil, &name); err != nil {
		return c.fail(err)
	}
	fmt.Fprintln(c.stdout, name)
	return 0
}

func (c *cli) runEvents(args []string) int {
	fs := c.newFlagSet("events")
	cursor := fs.Uint64("cursor", 0, "return records after this sequence")
	limit := fs.Int("limit", 50, "maximum records to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var res eventsResult
	params := map[string]interface{}{"cursor": *cursor, "limit": *limit}
	if err := c.client.call("market_getEvents", []interface{}{params}, &res); err != nil {
		return c.fail(err)
	}
	return c.printJSON(res)
}

func (c *cli) fetchAllEvents(cursor uint64) ([]events.Record, error) {
	var all []events.Record
	for {
		var res eventsResult
		params := map[string]interface{}{"cursor": cursor, "limit": exportPageSize}
		if err := c.client.call("market_getEvents", []interface{}{params}, &res); err != nil {
			return nil, err
		}
		all = append(all, res.Events...)
		if len(res.Events) == 0 {
			return all, nil
		}
		cursor = res.Events[len(res.Events)-1].Sequence
		if cursor >= res.Head {
			return all, nil
		}
	}
}

func (c *cli) runExport(args []string) int {
	fs := c.newFlagSet("export")
	out := fs.String("out", "", "destination file")
	format := fs.String("format", "parquet", "parquet or jsonl")
	cursor := fs.Uint64("cursor", 0, "export records after this sequence")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if strings.TrimSpace(*out) == "" {
		fmt.Fprintln(c.stderr, "Error: --out is required")
		return 1
	}
	records, err := c.fetchAllEvents(*cursor)
	if err != nil {
		return c.fail(err)
	}
	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "parquet":
		if err := exports.WriteEventsParquet(*out, records); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "Wrote %d records to %s\n", len(records), *out)
	case "jsonl":
		data, checksum, err := exports.EventsJSONL(records)
		if err != nil {
			return c.fail(err)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			return c.fail(err)
		}
		fmt.Fprintf(c.stdout, "Wrote %d records to %s (sha256 %s)\n", len(records), *out, checksum)
	default:
		fmt.Fprintf(c.stderr, "Error: unknown format %q\n", *format)
		return 1
	}
	return 0
}
