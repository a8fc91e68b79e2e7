// Package main is resolvectl, the operator command-line tool for the market
// resolution engine. It speaks to a running server over HTTP; it never
// touches the database directly.
//
// Configuration comes from two environment variables:
//
//	RESOLVE_API_URL    base URL of the engine (default http://localhost:8080)
//	RESOLVE_API_TOKEN  bearer token from `resolvectl token`
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	baseURL := os.Getenv("RESOLVE_API_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client := NewClient(baseURL, os.Getenv("RESOLVE_API_TOKEN"))

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "pending":
		err = cmdPending(ctx, client)
	case "status":
		err = cmdStatus(ctx, client, os.Args[2:])
	case "preview":
		err = cmdPreview(ctx, client, os.Args[2:])
	case "resolve":
		err = cmdResolve(ctx, client, os.Args[2:])
	case "cancel":
		err = cmdCancel(ctx, client, os.Args[2:])
	case "rollback":
		err = cmdRollback(ctx, client, os.Args[2:])
	case "reconcile":
		err = cmdReconcile(ctx, client, os.Args[2:])
	case "balance":
		err = cmdBalance(ctx, client, os.Args[2:])
	case "token":
		err = cmdToken(ctx, client, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		log.Printf("unknown command %q", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("resolvectl %s: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `resolvectl — operator tool for the market resolution engine

Usage:
  resolvectl pending                                    list markets awaiting resolution
  resolvectl status    -market <id>                     full resolution status of a market
  resolvectl preview   -market <id> -winner <option>    dry-run the payout plan
             [-fee <fraction>]
  resolvectl resolve   -market <id> -winner <option>    resolve and distribute payouts
             [-evidence <text>] [-urls <u1,u2>]
  resolvectl cancel    -market <id> [-reason <text>]    cancel and refund all stakes
             [-refund=false]                            (-refund=false forfeits them)
  resolvectl rollback  -dist <id> -reason <text>        reverse a completed distribution
  resolvectl reconcile -account <id> [-repair]          audit an account's balance
  resolvectl balance   -account <id>                    show an account balance
  resolvectl token     -operator <id> -key <api-key>    exchange an API key for a JWT

Environment:
  RESOLVE_API_URL     engine base URL (default http://localhost:8080)
  RESOLVE_API_TOKEN   bearer token for authenticated commands
`)
}

// printJSON pretty-prints a data payload to stdout.
func printJSON(data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		// Not an object/array; print as-is.
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

// requireFlag exits with a usage error when a mandatory flag is empty.
func requireFlag(fs *flag.FlagSet, name, value string) error {
	if value == "" {
		fs.Usage()
		return fmt.Errorf("-%s is required", name)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Subcommands
// ──────────────────────────────────────────────────────────────────────────────

func cmdPending(ctx context.Context, c *Client) error {
	data, err := c.Pending(ctx)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdStatus(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	fs.Parse(args)
	if err := requireFlag(fs, "market", *market); err != nil {
		return err
	}

	data, err := c.Status(ctx, *market)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdPreview(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	winner := fs.String("winner", "", "winning option id")
	fee := fs.String("fee", "", "creator fee fraction override, e.g. 0.05")
	fs.Parse(args)
	if err := requireFlag(fs, "market", *market); err != nil {
		return err
	}
	if err := requireFlag(fs, "winner", *winner); err != nil {
		return err
	}

	data, err := c.Preview(ctx, *market, *winner, *fee)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdResolve(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	winner := fs.String("winner", "", "winning option id")
	evidence := fs.String("evidence", "", "evidence description")
	urls := fs.String("urls", "", "comma-separated evidence URLs")
	fs.Parse(args)
	if err := requireFlag(fs, "market", *market); err != nil {
		return err
	}
	if err := requireFlag(fs, "winner", *winner); err != nil {
		return err
	}

	payload := resolvePayload{WinningOptionID: *winner}
	if *evidence != "" {
		payload.Evidence = append(payload.Evidence, evidenceItem{Description: *evidence})
	}
	for _, u := range strings.Split(*urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			payload.Evidence = append(payload.Evidence, evidenceItem{URL: u})
		}
	}

	data, err := c.Resolve(ctx, *market, payload)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdCancel(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	market := fs.String("market", "", "market id")
	reason := fs.String("reason", "", "cancellation reason")
	refund := fs.Bool("refund", true, "return stakes to their owners (-refund=false forfeits them)")
	fs.Parse(args)
	if err := requireFlag(fs, "market", *market); err != nil {
		return err
	}

	data, err := c.Cancel(ctx, *market, *reason, *refund)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdRollback(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dist := fs.String("dist", "", "distribution id")
	reason := fs.String("reason", "", "rollback reason")
	fs.Parse(args)
	if err := requireFlag(fs, "dist", *dist); err != nil {
		return err
	}
	if err := requireFlag(fs, "reason", *reason); err != nil {
		return err
	}

	data, err := c.Rollback(ctx, *dist, *reason)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdReconcile(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	account := fs.String("account", "", "account id or wallet address")
	repair := fs.Bool("repair", false, "rewrite the stored balance to the folded values")
	fs.Parse(args)
	if err := requireFlag(fs, "account", *account); err != nil {
		return err
	}

	data, err := c.Reconcile(ctx, *account, *repair)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdBalance(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	account := fs.String("account", "", "account id or wallet address")
	fs.Parse(args)
	if err := requireFlag(fs, "account", *account); err != nil {
		return err
	}

	data, err := c.Balance(ctx, *account)
	if err != nil {
		return err
	}
	return printJSON(data)
}

func cmdToken(ctx context.Context, c *Client, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	operator := fs.String("operator", "", "operator id")
	key := fs.String("key", "", "operator API key")
	fs.Parse(args)
	if err := requireFlag(fs, "operator", *operator); err != nil {
		return err
	}
	if err := requireFlag(fs, "key", *key); err != nil {
		return err
	}

	data, err := c.Token(ctx, *operator, *key)
	if err != nil {
		return err
	}
	return printJSON(data)
}
