// Package main provides paybyt-cli, the command line client of paybytd.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Version = rpc.Version
	app.Name = "paybyt-cli"
	app.Usage = "Command line interface for the paybytd wallet daemon"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "rpc",
			Usage:   "paybytd JSON-RPC endpoint",
			Value:   "http://127.0.0.1:8332",
			EnvVars: []string{"PAYBYT_RPC"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "request timeout",
			Value: 2 * time.Minute,
		},
	}
	app.Commands = append(
		app.Commands,
		&status,
		&genseed,
		&createwallet,
		&unlockwallet,
		&lockwallet,
		&address,
		&addresses,
		&validateaddress,
		&syncutxos,
		&listutxos,
		&balance,
		&fees,
		&send,
		&txCommand,
		&multisigCommand,
		&convert,
		&fiat,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	var rpcErr *rpcError
	if errors.As(err, &rpcErr) {
		fmt.Fprintf(os.Stderr, "[paybyt-cli] %s (code %d)\n", rpcErr.Message, rpcErr.Code)
		if rpcErr.Data != nil {
			printJSON(rpcErr.Data)
		}
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "[paybyt-cli] %v\n", err)
	os.Exit(1)
}

// rpcError is an error response of the daemon.
type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

var requestID atomic.Int64

// callRPC invokes method on the daemon and returns the raw result.
func callRPC(ctx *cli.Context, method string, params interface{}) (json.RawMessage, error) {
	req := rpc.Request{
		JSONRPC: "2.0",
		Method:  method,
		ID:      requestID.Add(1),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode params: %w", err)
		}
		req.Params = raw
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: ctx.Duration("timeout")}
	resp, err := client.Post(ctx.String("rpc"), "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("daemon unreachable at %s: %w", ctx.String("rpc"), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var out struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unexpected response (%s): %w", resp.Status, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	return out.Result, nil
}

// callInto invokes method and decodes its result into out.
func callInto(ctx *cli.Context, method string, params, out interface{}) error {
	result, err := callRPC(ctx, method, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(result, out)
}

// callAndPrint invokes method and prints its result.
func callAndPrint(ctx *cli.Context, method string, params interface{}) error {
	result, err := callRPC(ctx, method, params)
	if err != nil {
		return err
	}
	printRaw(result)
	return nil
}

func printRaw(raw json.RawMessage) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "\t"); err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(buf.String())
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		fmt.Println("unable to encode response: ", err)
		return
	}
	fmt.Println(string(data))
}
