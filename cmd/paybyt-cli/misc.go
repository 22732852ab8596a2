package main

import (
	"errors"

	"github.com/paybyt/paybyt-wallet/internal/chain"
	"github.com/paybyt/paybyt-wallet/internal/rpc"
	"github.com/urfave/cli/v2"
)

var networkFlag = &cli.StringFlag{
	Name:  "network",
	Usage: "mainnet or testnet; the wallet network when omitted",
}

var multisigCommand = cli.Command{
	Name:  "multisig",
	Usage: "build P2SH multisig addresses",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "build an m-of-n address, keys kept in the given order",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:     "m",
					Usage:    "required signatures",
					Required: true,
				},
				&cli.StringSliceFlag{
					Name:     "pubkey",
					Usage:    "compressed public key in hex, repeatable",
					Required: true,
				},
				&cli.BoolFlag{
					Name:  "sort",
					Usage: "sort keys lexicographically (BIP67)",
				},
				networkFlag,
			},
			Action: multisigCreateAction,
		},
		{
			Name:  "escrow",
			Usage: "build a 2-of-3 buyer/seller/arbiter address",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "buyer", Usage: "buyer public key", Required: true},
				&cli.StringFlag{Name: "seller", Usage: "seller public key", Required: true},
				&cli.StringFlag{Name: "arbiter", Usage: "arbiter public key", Required: true},
				networkFlag,
			},
			Action: multisigEscrowAction,
		},
	},
}

var convert = cli.Command{
	Name:  "convert",
	Usage: "convert between satoshis and BTC",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:  "sats",
			Usage: "amount in satoshis",
		},
		&cli.StringFlag{
			Name:  "btc",
			Usage: "amount in BTC",
		},
	},
	Action: convertAction,
}

var fiat = cli.Command{
	Name:      "fiat",
	Usage:     "convert a fiat amount to satoshis at the current price",
	ArgsUsage: "<amount>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "currency",
			Usage: "fiat currency; the configured one when omitted",
		},
	},
	Action: fiatAction,
}

func multisigCreateAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "multisig_create", rpc.MultisigCreateParams{
		M:       ctx.Int("m"),
		PubKeys: ctx.StringSlice("pubkey"),
		Sort:    ctx.Bool("sort"),
		Network: chain.Network(ctx.String("network")),
	})
}

func multisigEscrowAction(ctx *cli.Context) error {
	return callAndPrint(ctx, "multisig_escrow", rpc.MultisigEscrowParams{
		Buyer:   ctx.String("buyer"),
		Seller:  ctx.String("seller"),
		Arbiter: ctx.String("arbiter"),
		Network: chain.Network(ctx.String("network")),
	})
}

func convertAction(ctx *cli.Context) error {
	var params rpc.AmountConvertParams
	switch {
	case ctx.IsSet("sats"):
		sats := ctx.Uint64("sats")
		params.Satoshis = &sats
	case ctx.String("btc") != "":
		params.BTC = ctx.String("btc")
	default:
		return errors.New("one of --sats or --btc is required")
	}
	return callAndPrint(ctx, "amount_convert", params)
}

func fiatAction(ctx *cli.Context) error {
	amount := ctx.Args().First()
	if amount == "" {
		return errors.New("amount must not be null")
	}
	return callAndPrint(ctx, "amount_fiatToSats", rpc.AmountFiatToSatsParams{
		Amount:   amount,
		Currency: ctx.String("currency"),
	})
}
