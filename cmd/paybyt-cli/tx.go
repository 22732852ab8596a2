package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/paybyt/paybyt-wallet/internal/wallet"
	"github.com/paybyt/paybyt-wallet/pkg/helpers"
	"github.com/urfave/cli/v2"
)

var feeRateFlag = &cli.Uint64Flag{
	Name:  "fee-rate",
	Usage: "fee rate in sat/byte; the daemon default when omitted",
}

var outputFlag = &cli.StringSliceFlag{
	Name:  "to",
	Usage: "payment as <address>:<btc>, repeatable",
}

var send = cli.Command{
	Name:  "send",
	Usage: "pay one or more addresses from the wallet",
	Flags: []cli.Flag{
		outputFlag,
		feeRateFlag,
		&cli.BoolFlag{
			Name:  "prepare-only",
			Usage: "reserve coins and build the transaction without signing",
		},
	},
	Action: sendAction,
}

var txCommand = cli.Command{
	Name:  "tx",
	Usage: "manage pending transactions",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "list pending transactions",
			Action: txListAction,
		},
		{
			Name:      "get",
			Usage:     "show a pending transaction",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_get"),
		},
		{
			Name:      "sign",
			Usage:     "sign a pending transaction with the wallet keys",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_sign"),
		},
		{
			Name:      "finalize",
			Usage:     "assemble a fully signed transaction",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_finalize"),
		},
		{
			Name:      "broadcast",
			Usage:     "broadcast a finalized transaction",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_broadcast"),
		},
		{
			Name:      "abandon",
			Usage:     "drop a pending transaction and release its coins",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_abandon"),
		},
		{
			Name:      "psbt",
			Usage:     "export a pending transaction as base64 PSBT",
			ArgsUsage: "<id>",
			Action:    txIDAction("tx_exportPSBT"),
		},
		{
			Name:      "decode",
			Usage:     "decode a raw transaction",
			ArgsUsage: "<hex>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "network",
					Usage: "network used to render addresses",
				},
			},
			Action: txDecodeAction,
		},
		{
			Name:  "estimate",
			Usage: "estimate the fee of a transaction",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "inputs",
					Usage: "number of inputs",
					Value: 1,
				},
				&cli.IntFlag{
					Name:  "outputs",
					Usage: "number of outputs including change",
					Value: 2,
				},
				feeRateFlag,
			},
			Action: txEstimateAction,
		},
	},
}

// parseOutputs turns <address>:<btc> pairs into payment outputs.
func parseOutputs(values []string) ([]wallet.Output, error) {
	if len(values) == 0 {
		return nil, errors.New("at least one --to is required")
	}

	outputs := make([]wallet.Output, 0, len(values))
	for _, v := range values {
		addr, amount, ok := strings.Cut(v, ":")
		if !ok || addr == "" {
			return nil, fmt.Errorf("invalid output %q, want <address>:<btc>", v)
		}
		sats, err := helpers.BTCToSatoshis(amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount in %q: %w", v, err)
		}
		outputs = append(outputs, wallet.Output{Address: addr, Value: sats})
	}
	return outputs, nil
}

func sendAction(ctx *cli.Context) error {
	outputs, err := parseOutputs(ctx.StringSlice("to"))
	if err != nil {
		return err
	}

	method := "tx_send"
	if ctx.Bool("prepare-only") {
		method = "tx_prepare"
	}
	return callAndPrint(ctx, method, rpc.TxPrepareParams{
		Outputs: outputs,
		FeeRate: ctx.Uint64("fee-rate"),
	})
}

func txListAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "tx_listPending", nil)
}

func txIDAction(method string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		id := ctx.Args().First()
		if id == "" {
			return errors.New("transaction id must not be null")
		}
		return callAndPrint(ctx, method, rpc.TxIDParams{ID: id})
	}
}

func txDecodeAction(ctx *cli.Context) error {
	raw := ctx.Args().First()
	if raw == "" {
		return errors.New("transaction hex must not be null")
	}
	return callAndPrint(ctx, "tx_decode", rpc.TxDecodeParams{
		Hex:     raw,
		Network: chain.Network(ctx.String("network")),
	})
}

func txEstimateAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "tx_estimateFee", rpc.TxEstimateFeeParams{
		Inputs:  ctx.Int("inputs"),
		Outputs: ctx.Int("outputs"),
		FeeRate: ctx.Uint64("fee-rate"),
	})
}
